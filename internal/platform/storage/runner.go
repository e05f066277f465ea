package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
)

// ErrNoBackend 表示某种职责下没有配置任何后端
var ErrNoBackend = errors.New("没有可用的存储后端")

// BreakerConfig 定义每个后端熔断器的参数
type BreakerConfig struct {
	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold uint32
	// OpenTimeout 熔断后多久进入半开状态
	OpenTimeout time.Duration
	// HalfOpenRequests 半开状态允许通过的探测请求数
	HalfOpenRequests uint32
}

// DefaultBreakerConfig 返回默认熔断参数
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Runner 持有每个后端的熔断器，并实现统一的回退循环。
// 一个后端熔断期间，对它的尝试会立即失败，回退循环直接转向下一个后端。
type Runner struct {
	cfg BreakerConfig
	// ignore 返回true的错误不计入熔断统计（例如表不存在这类部署问题）
	ignore func(error) bool

	mu       sync.Mutex
	breakers map[Kind]*gobreaker.CircuitBreaker[any]
}

// NewRunner 创建回退执行器。ignore 可以为nil。
func NewRunner(cfg BreakerConfig, ignore func(error) bool) *Runner {
	return &Runner{
		cfg:      cfg,
		ignore:   ignore,
		breakers: make(map[Kind]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Runner) breaker(kind Kind) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[kind]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(kind),
		MaxRequests: r.cfg.HalfOpenRequests,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return r.ignore != nil && r.ignore(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("backend", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("存储后端熔断状态变化")
		},
	})
	r.breakers[kind] = cb
	return cb
}

// State 返回某个后端熔断器的当前状态
func (r *Runner) State(kind Kind) string {
	return r.breaker(kind).State().String()
}

// Attempt 按 plan 的顺序依次调用 fn，返回第一个成功的结果以及落地的后端。
// 全部失败时返回所有尝试错误的合并，可以用 errors.Is 检查其中任意一个。
func Attempt[T any](ctx context.Context, r *Runner, role Role, plan []Kind, fn func(ctx context.Context, kind Kind) (T, error)) (T, Kind, error) {
	var zero T
	if len(plan) == 0 {
		return zero, "", fmt.Errorf("%w: %s", ErrNoBackend, role)
	}

	errs := make([]error, 0, len(plan))
	for _, kind := range plan {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := r.breaker(kind).Execute(func() (any, error) {
			return fn(ctx, kind)
		})
		if err == nil {
			metrics.BackendAttempts.WithLabelValues(string(kind), string(role), "ok").Inc()
			return res.(T), kind, nil
		}

		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "open"
		}
		metrics.BackendAttempts.WithLabelValues(string(kind), string(role), result).Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("backend", string(kind)).
			Str("role", string(role)).
			Msg("存储后端尝试失败，转向下一个后端")

		errs = append(errs, fmt.Errorf("%s: %w", kind, err))
	}

	return zero, "", errors.Join(errs...)
}
