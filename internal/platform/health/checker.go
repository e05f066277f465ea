// Package health 定期探测各存储后端，检测Redis重启并提供 /healthz。
package health

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/storage"
	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

const (
	DefaultInterval = 5 * time.Second
	pingTimeout     = 2 * time.Second
)

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// Options 定制 Checker
type Options struct {
	// Interval 两次检查之间的间隔
	Interval time.Duration
	// OnRedisRebuild 在Redis重启、从降级中恢复或上次重建未完成时调用，通常是重新预热计数器
	OnRedisRebuild func(ctx context.Context) error
	// RunID 读取Redis实例的 run_id，默认解析 INFO server
	RunID func(ctx context.Context) (string, error)
}

// Checker 持有最近一次探测的结果
type Checker struct {
	stores         *database.Stores
	interval       time.Duration
	onRedisRebuild func(ctx context.Context) error
	runID          func(ctx context.Context) (string, error)

	redis redisStatus

	mu        sync.RWMutex
	up        map[storage.Kind]bool
	checkedAt time.Time
}

// NewChecker 创建健康检查器
func NewChecker(stores *database.Stores, opts Options) *Checker {
	c := &Checker{
		stores:         stores,
		interval:       opts.Interval,
		onRedisRebuild: opts.OnRedisRebuild,
		runID:          opts.RunID,
		up:             make(map[storage.Kind]bool),
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.runID == nil {
		c.runID = c.redisRunID
	}
	return c
}

// redisRunID 从 INFO server 中提取 run_id
func (c *Checker) redisRunID(ctx context.Context) (string, error) {
	info, err := c.stores.Redis.Info(ctx, "server").Result()
	if err != nil {
		return "", err
	}
	matches := runIDPattern.FindStringSubmatch(info)
	if len(matches) < 2 {
		return "", errors.New("无法在Redis INFO中找到run_id")
	}
	return matches[1], nil
}

func (c *Checker) pingMongo(ctx context.Context) error {
	return c.stores.Mongo.Client().Ping(ctx, nil)
}

func (c *Checker) pingSQL(ctx context.Context) error {
	db, err := c.stores.SQL()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func probe(ctx context.Context, kind storage.Kind, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logging.Debug().Err(err).Str("backend", string(kind)).Msg("健康检查: 后端不可达")
		return false
	}
	return true
}

// Check 执行一次完整的检查，必要时触发计数器重新预热
func (c *Checker) Check(ctx context.Context) {
	up := make(map[storage.Kind]bool, 3)

	if c.stores.Redis != nil {
		var runID string
		up[storage.KindRedis] = probe(ctx, storage.KindRedis, func(ctx context.Context) error {
			id, err := c.runID(ctx)
			runID = id
			return err
		})
		if c.redis.Assess(up[storage.KindRedis], runID) {
			c.rebuild(ctx)
		}
	}
	if c.stores.Mongo != nil {
		up[storage.KindMongo] = probe(ctx, storage.KindMongo, c.pingMongo)
	}
	if c.stores.HasSQL() {
		up[storage.KindSQL] = probe(ctx, storage.KindSQL, c.pingSQL)
	}

	c.mu.Lock()
	c.up = up
	c.checkedAt = time.Now()
	c.mu.Unlock()
}

func (c *Checker) rebuild(ctx context.Context) {
	if c.onRedisRebuild == nil {
		c.redis.MarkRebuildComplete(true, c.redis.RunID())
		return
	}

	err := c.onRedisRebuild(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("健康检查: 计数器重新预热失败")
	}

	idCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	idAfter, idErr := c.runID(idCtx)
	if idErr != nil {
		c.redis.MarkRebuildComplete(false, "")
		return
	}
	c.redis.MarkRebuildComplete(err == nil, idAfter)
}

// Run 周期性执行检查，直到 handle 发出停机信号
func (c *Checker) Run(handle *lifecycle.Handle) {
	defer handle.Close()
	logging.Info().Dur("interval", c.interval).Msg("存储健康检查器已启动")

	for {
		if err := handle.Sleep(c.interval); err != nil {
			return
		}
		c.Check(handle.Ctx())
	}
}

// RedisHealthy 报告快速路径当前是否健康且计数器已经预热
func (c *Checker) RedisHealthy() bool {
	c.mu.RLock()
	up := c.up[storage.KindRedis]
	c.mu.RUnlock()
	return up && c.redis.State() == StateHealthy
}

// Report 是 /healthz 的响应体
type Report struct {
	Status     string            `json:"status"`
	Backends   map[string]string `json:"backends"`
	RedisState string            `json:"redisState,omitempty"`
	CheckedAt  *time.Time        `json:"checkedAt,omitempty"`
}

// Snapshot 返回最近一次检查的结果
func (c *Checker) Snapshot() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Report{Status: "unavailable", Backends: make(map[string]string, len(c.up))}
	for kind, up := range c.up {
		if up {
			r.Backends[string(kind)] = "up"
		} else {
			r.Backends[string(kind)] = "down"
		}
	}
	if c.up[storage.KindRedis] || c.up[storage.KindSQL] {
		r.Status = "ok"
	}
	if c.stores.Redis != nil {
		r.RedisState = c.redis.State().String()
	}
	if !c.checkedAt.IsZero() {
		at := c.checkedAt
		r.CheckedAt = &at
	}
	return r
}

// Handler 返回 /healthz 的处理函数
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		report := c.Snapshot()
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, report)
	}
}
