package slap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/idempotency"
	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
	"github.com/SlpAus/slap-counter-backend/internal/platform/storage"
	"github.com/SlpAus/slap-counter-backend/internal/ratelimit"
	"github.com/SlpAus/slap-counter-backend/pkg/clientid"
)

// DefaultCounterKey 是全局计数器的默认名称
const DefaultCounterKey = "slaps"

// Admitter 是限流器的最小接口
type Admitter interface {
	Admit(ctx context.Context, identity string) ratelimit.Decision
}

// Deduper 是幂等守卫的最小接口
type Deduper interface {
	CheckAndMark(ctx context.Context, actionID string) idempotency.Result
}

type counterBackend interface {
	Increment(ctx context.Context, key string, ev Event) (Outcome, error)
}

type auditBackend interface {
	Record(ctx context.Context, key string, ev Event, total int64) error
}

type totalBackend interface {
	Total(ctx context.Context, key string) (int64, error)
}

var errRoleUnsupported = errors.New("后端不支持该操作")

// Backends 是已配置的存储后端，未配置的为nil
type Backends struct {
	Redis *RedisStore
	Mongo *MongoStore
	SQL   *SQLStore
}

// NewBackends 根据共享的存储客户端创建各后端
func NewBackends(stores *database.Stores) Backends {
	var b Backends
	if stores.Redis != nil {
		b.Redis = NewRedisStore(stores.Redis)
	}
	if stores.Mongo != nil {
		b.Mongo = NewMongoStore(stores.Mongo)
	}
	if stores.HasSQL() {
		b.SQL = NewSQLStore(stores)
	}
	return b
}

// Configured 报告某种后端是否已配置
func (b Backends) Configured(kind storage.Kind) bool {
	switch kind {
	case storage.KindRedis:
		return b.Redis != nil
	case storage.KindMongo:
		return b.Mongo != nil
	case storage.KindSQL:
		return b.SQL != nil
	}
	return false
}

func (b Backends) counter(kind storage.Kind) counterBackend {
	switch {
	case kind == storage.KindRedis && b.Redis != nil:
		return b.Redis
	case kind == storage.KindSQL && b.SQL != nil:
		return b.SQL
	}
	return nil
}

func (b Backends) audit(kind storage.Kind) auditBackend {
	switch {
	case kind == storage.KindMongo && b.Mongo != nil:
		return b.Mongo
	case kind == storage.KindSQL && b.SQL != nil:
		return b.SQL
	}
	return nil
}

func (b Backends) totals(kind storage.Kind) totalBackend {
	switch {
	case kind == storage.KindRedis && b.Redis != nil:
		return b.Redis
	case kind == storage.KindMongo && b.Mongo != nil:
		return b.Mongo
	case kind == storage.KindSQL && b.SQL != nil:
		return b.SQL
	}
	return nil
}

// Request 是一次计数请求的输入
type Request struct {
	// Identity 是调用方网络地址，或 "unknown"
	Identity string
	// ActionID 是可选的幂等动作ID
	ActionID string
}

// Result 是一次计数请求的结果。重复请求与新请求结构相同，只是 Duplicate 为true。
type Result struct {
	// Total 为nil表示总数暂时无法获得
	Total     *int64
	Duplicate bool
	// Backend 是权威计数实际落地的后端，重复请求时为空
	Backend storage.Kind
}

// Service 编排 限流 -> 去重 -> 计数 的完整流程
type Service struct {
	key      string
	backends Backends
	selector *storage.Selector
	runner   *storage.Runner
	limiter  Admitter
	guard    Deduper
	now      func() time.Time

	// highWater 是本进程返回过的最大总数
	highWater atomic.Int64
}

// ServiceOption 定制 Service
type ServiceOption func(*Service)

// WithServiceClock 替换审计事件的时间来源
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService 创建计数服务
func NewService(key string, backends Backends, limiter Admitter, guard Deduper, opts ...ServiceOption) *Service {
	if key == "" {
		key = DefaultCounterKey
	}
	s := &Service{
		key:      key,
		backends: backends,
		limiter:  limiter,
		guard:    guard,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.selector = storage.NewSelector(backends.Configured)
	s.runner = storage.NewRunner(storage.DefaultBreakerConfig(), func(err error) bool {
		return errors.Is(err, ErrStorageUnready) || errors.Is(err, errCounterMissing)
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key 返回计数器名称
func (s *Service) Key() string { return s.key }

// Slap 处理一次计数请求
func (s *Service) Slap(ctx context.Context, req Request) (Result, error) {
	// 1. 限流
	if d := s.limiter.Admit(ctx, req.Identity); !d.Allowed {
		return Result{}, ErrRateLimited
	}

	// 2. 去重。重复请求不产生任何副作用，只尽力返回当前总数
	mark := s.guard.CheckAndMark(ctx, req.ActionID)
	if mark.Duplicate {
		return Result{Total: s.CurrentTotal(ctx), Duplicate: true}, nil
	}
	// 计数失败时释放标记；请求的ctx可能已经取消，补偿操作不跟随它
	defer mark.Mark.RollbackUnlessCommitted(context.WithoutCancel(ctx))

	// 3. 计数
	ev := Event{Amount: 1, IPHash: clientid.Hash(req.Identity), CreatedAt: s.now()}
	total, kind, err := s.Increment(ctx, ev)
	if err != nil {
		return Result{}, err
	}

	mark.Mark.Commit()
	return Result{Total: &total, Backend: kind}, nil
}

// Increment 按后端偏好顺序增加计数并记录审计事件，返回新的总数。
// 调用方需已经通过限流和去重检查。
func (s *Service) Increment(ctx context.Context, ev Event) (int64, storage.Kind, error) {
	plan := s.selector.Plan(storage.RoleCounter)
	out, kind, err := storage.Attempt(ctx, s.runner, storage.RoleCounter, plan,
		func(ctx context.Context, kind storage.Kind) (Outcome, error) {
			backend := s.backends.counter(kind)
			if backend == nil {
				return Outcome{}, errRoleUnsupported
			}
			ev.Floor = s.highWater.Load()
			out, err := backend.Increment(ctx, s.key, ev)
			if kind == storage.KindRedis && errors.Is(err, errCounterMissing) {
				// Redis丢失了计数器，先从持久化存储恢复再重试一次
				if _, werr := s.WarmupCache(ctx); werr != nil {
					return Outcome{}, errors.Join(err, werr)
				}
				out, err = backend.Increment(ctx, s.key, ev)
			}
			return out, err
		})
	if err != nil {
		if errors.Is(err, ErrStorageUnready) || errors.Is(err, storage.ErrNoBackend) {
			return 0, "", fmt.Errorf("%w: %w", ErrStorageUnready, err)
		}
		return 0, "", fmt.Errorf("计数失败: %w", err)
	}

	metrics.SlapsTotal.WithLabelValues(string(kind)).Inc()
	s.observe(out.Total)

	if !out.Audited {
		s.recordAudit(ctx, ev, out.Total)
	}
	return out.Total, kind, nil
}

// recordAudit 在快速路径上尽力写入审计事件。计数已经成功，这里的失败只记录日志。
func (s *Service) recordAudit(ctx context.Context, ev Event, total int64) {
	plan := s.selector.Plan(storage.RoleAudit)
	if len(plan) == 0 {
		return
	}
	_, _, err := storage.Attempt(ctx, s.runner, storage.RoleAudit, plan,
		func(ctx context.Context, kind storage.Kind) (struct{}, error) {
			backend := s.backends.audit(kind)
			if backend == nil {
				return struct{}{}, errRoleUnsupported
			}
			return struct{}{}, backend.Record(ctx, s.key, ev, total)
		})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("total", total).Msg("审计事件写入失败，计数已生效")
	}
}

// CurrentTotal 尽力读取当前总数，所有后端都失败时返回nil
func (s *Service) CurrentTotal(ctx context.Context) *int64 {
	plan := s.selector.Plan(storage.RoleLookup)
	total, _, err := storage.Attempt(ctx, s.runner, storage.RoleLookup, plan,
		func(ctx context.Context, kind storage.Kind) (int64, error) {
			backend := s.backends.totals(kind)
			if backend == nil {
				return 0, errRoleUnsupported
			}
			return backend.Total(ctx, s.key)
		})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("无法读取当前总数")
		return nil
	}
	s.observe(total)
	return &total
}

// observe 把 total 计入 highWater
func (s *Service) observe(total int64) {
	for {
		cur := s.highWater.Load()
		if total <= cur || s.highWater.CompareAndSwap(cur, total) {
			return
		}
	}
}
