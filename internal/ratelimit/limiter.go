package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
	"github.com/SlpAus/slap-counter-backend/pkg/clientid"
)

const (
	// rateKeyPrefix 是Redis中限流计数的键名前缀，后接身份摘要
	rateKeyPrefix = "rate:"

	// DefaultWindow 固定窗口长度
	DefaultWindow = 60 * time.Second
	// DefaultMax 每个身份每个窗口内允许的请求数
	DefaultMax = 10
)

// fixedWindowScript 在一次原子执行中完成 INCR 和首次 PEXPIRE，返回自增后的值
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision 是一次准入检查的结果
type Decision struct {
	Allowed bool
	// Count 是本窗口内（包含本次）已见到的请求数
	Count int64
	// Shared 表示结果来自共享的Redis计数，而不是进程内计数
	Shared bool
}

type bucket struct {
	count   int64
	resetAt time.Time
}

// Limiter 是按调用方身份计数的固定窗口限流器。
// 配置了Redis时使用共享计数；Redis未配置或调用失败时，退化为进程内计数，永远不会因为内部故障拒绝请求。
type Limiter struct {
	window time.Duration
	max    int64
	rdb    *redis.Client
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Option 定制 Limiter
type Option func(*Limiter)

// WithClock 替换时间来源，主要用于测试
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New 创建限流器。rdb 为nil时只使用进程内计数。
func New(rdb *redis.Client, window time.Duration, max int64, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	l := &Limiter{
		window:  window,
		max:     max,
		rdb:     rdb,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit 为 identity 记录一次请求并判断是否放行
func (l *Limiter) Admit(ctx context.Context, identity string) Decision {
	key := clientid.Hash(identity)

	if l.rdb != nil {
		count, err := l.incrementShared(ctx, key)
		if err == nil {
			return Decision{Allowed: count <= l.max, Count: count, Shared: true}
		}
		metrics.LocalFallbacks.WithLabelValues("ratelimit").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("共享限流计数失败，本次请求退化为进程内计数")
	}

	count := l.incrementLocal(key)
	return Decision{Allowed: count <= l.max, Count: count}
}

func (l *Limiter) incrementShared(ctx context.Context, key string) (int64, error) {
	return fixedWindowScript.Run(ctx, l.rdb, []string{rateKeyPrefix + key}, l.window.Milliseconds()).Int64()
}

func (l *Limiter) incrementLocal(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(l.window)
	}
	b.count++
	return b.count
}

// Sweep 删除已经过期的进程内计数桶，返回删除的数量
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// LocalSize 返回进程内计数桶的数量
func (l *Limiter) LocalSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
