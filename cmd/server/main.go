package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/SlpAus/slap-counter-backend/api"
	"github.com/SlpAus/slap-counter-backend/internal/idempotency"
	"github.com/SlpAus/slap-counter-backend/internal/platform/backup"
	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
	"github.com/SlpAus/slap-counter-backend/internal/platform/health"
	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/shutdown"
	"github.com/SlpAus/slap-counter-backend/internal/platform/startup"
	"github.com/SlpAus/slap-counter-backend/internal/ratelimit"
	"github.com/SlpAus/slap-counter-backend/internal/slap"
	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Error().Err(err).Msg("无法加载配置")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()

	// 1. 构造存储客户端，后端不可达不会阻止启动
	stores, err := database.NewStores(ctx, cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("存储配置无效")
		os.Exit(1)
	}
	logging.Info().
		Bool("redis", cfg.Database.HasRedis()).
		Bool("mongo", cfg.Database.HasMongo()).
		Bool("sql", cfg.Database.HasSQL()).
		Msg("存储后端配置")

	// 2. 组装计数服务
	limiter := ratelimit.New(stores.Redis, cfg.RateLimit.Window, cfg.RateLimit.Max)
	guard := idempotency.New(stores.Redis, cfg.Idempotency.TTL)
	svc := slap.NewService(cfg.Counter.Key, slap.NewBackends(stores), limiter, guard)

	// 3. 执行应用启动初始化流程
	if err := startup.InitializeApplication(ctx, svc, cfg); err != nil {
		logging.Error().Err(err).Msg("应用初始化失败，无法启动")
		os.Exit(1)
	}

	// 4. 阻塞式执行一次启动后健康检查，记录初始的Redis run_id
	checker := health.NewChecker(stores, health.Options{
		Interval: cfg.Health.Interval,
		OnRedisRebuild: func(ctx context.Context) error {
			return startup.RebuildCache(ctx, svc)
		},
	})
	checker.Check(ctx)

	// 5. 启动后台服务
	gracefulMgr := lifecycle.NewManager("graceful", logging.Logger())
	forcefulMgr := lifecycle.NewManager("forceful", logging.Logger())

	mustGo := func(name string, fn func(h *lifecycle.Handle)) {
		if err := gracefulMgr.Go(name, fn); err != nil {
			logging.Error().Err(err).Msg("无法启动后台服务")
			os.Exit(1)
		}
	}

	mustGo("health", func(h *lifecycle.Handle) { checker.Run(h) })
	mustGo("janitor", func(h *lifecycle.Handle) {
		runJanitor(h, time.Minute, map[string]sweeper{
			"ratelimit":   limiter,
			"idempotency": guard,
		})
	})

	snapshots := backup.NewScheduler(svc, cfg.Snapshot.Interval, checker.RedisHealthy)
	if cfg.Database.HasRedis() && cfg.Database.HasSQL() {
		mustGo("snapshot", func(h *lifecycle.Handle) { snapshots.Run(h) })
	}

	var sqlStore *slap.SQLStore
	if stores.HasSQL() {
		sqlStore = slap.NewSQLStore(stores)
	}
	pruner := slap.NewPruner(sqlStore, cfg.Retention.Events, cfg.Retention.PruneInterval, cfg.Retention.BatchSize)
	if pruner.Enabled() {
		mustGo("retention", func(h *lifecycle.Handle) { pruner.Run(h) })
	}

	// 6. 启动HTTP服务器
	router := api.NewRouter(cfg.Server, api.Deps{
		Slap:      slap.NewHandler(svc),
		Health:    checker,
		VideoPath: cfg.Server.VideoPath,
	})
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("address", cfg.Server.Address).Msg("服务器已准备就绪，开始监听")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("HTTP服务器异常退出")
			os.Exit(1)
		}
	}()

	// 7. 阻塞直到收到停机信号
	coordinator := shutdown.NewCoordinator(gracefulMgr, forcefulMgr)
	coordinator.FinalSnapshot = snapshots.SnapshotNow
	coordinator.CloseStores = stores.Close
	coordinator.ListenForSignalsAndShutdown(server)
}
