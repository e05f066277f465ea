package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
)

const (
	// actionKeyPrefix 是Redis中幂等标记的键名前缀，后接调用方提供的动作ID
	actionKeyPrefix = "action:"

	// DefaultTTL 幂等标记的有效期
	DefaultTTL = 60 * time.Second
)

// Guard 在短时间窗口内对携带相同动作ID的请求去重。
// 配置了Redis时使用 SET NX PX 共享标记；未配置或调用失败时使用进程内标记表，过期在读取时惰性判断，并由 Sweep 定期清理。
type Guard struct {
	ttl time.Duration
	rdb *redis.Client
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// Option 定制 Guard
type Option func(*Guard)

// WithClock 替换时间来源，主要用于测试
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New 创建幂等守卫。rdb 为nil时只使用进程内标记。
func New(rdb *redis.Client, ttl time.Duration, opts ...Option) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Guard{
		ttl:  ttl,
		rdb:  rdb,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Result 是一次检查的结果。Duplicate 为false时，调用方持有 Mark，并负责提交或回滚。
type Result struct {
	Duplicate bool
	Mark      *Mark
}

// CheckAndMark 检查动作ID是否在有效期内出现过；未出现过则原子地记下它。
// actionID 为空表示调用方不需要去重，总是返回新请求。
func (g *Guard) CheckAndMark(ctx context.Context, actionID string) Result {
	if actionID == "" {
		return Result{Mark: &Mark{}}
	}

	if g.rdb != nil {
		created, err := g.rdb.SetNX(ctx, actionKeyPrefix+actionID, "1", g.ttl).Result()
		if err == nil {
			if !created {
				return Result{Duplicate: true}
			}
			return Result{Mark: &Mark{guard: g, actionID: actionID, shared: true}}
		}
		metrics.LocalFallbacks.WithLabelValues("idempotency").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("共享幂等标记失败，本次请求退化为进程内去重")
	}

	if !g.markLocal(actionID) {
		return Result{Duplicate: true}
	}
	return Result{Mark: &Mark{guard: g, actionID: actionID}}
}

// markLocal 记录动作ID，返回false表示该ID仍在有效期内
func (g *Guard) markLocal(actionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if firstSeen, ok := g.seen[actionID]; ok && now.Sub(firstSeen) < g.ttl {
		return false
	}
	g.seen[actionID] = now
	return true
}

func (g *Guard) forget(ctx context.Context, m *Mark) {
	if m.shared {
		if err := g.rdb.Del(ctx, actionKeyPrefix+m.actionID).Err(); err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("action_id", m.actionID).Msg("释放幂等标记失败，该动作ID在有效期内将被视为重复")
		}
		return
	}

	g.mu.Lock()
	delete(g.seen, m.actionID)
	g.mu.Unlock()
}

// Sweep 删除已过期的进程内标记，返回删除的数量
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, firstSeen := range g.seen {
		if now.Sub(firstSeen) >= g.ttl {
			delete(g.seen, id)
			removed++
		}
	}
	return removed
}

// LocalSize 返回进程内标记的数量
func (g *Guard) LocalSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Mark 是一次成功标记的补偿句柄。
// 上层流程成功后调用 Commit；否则 defer 的 RollbackUnlessCommitted 会释放标记，
// 避免一次从未计数成功的请求让重试被当作重复。
type Mark struct {
	guard     *Guard
	actionID  string
	shared    bool
	committed bool
}

// Commit 标记上层流程已成功，阻止后续的回滚
func (m *Mark) Commit() {
	m.committed = true
}

// RollbackUnlessCommitted 在未提交时释放标记
func (m *Mark) RollbackUnlessCommitted(ctx context.Context) {
	if m == nil || m.committed || m.guard == nil {
		return
	}
	m.guard.forget(ctx, m)
}
