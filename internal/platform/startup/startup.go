package startup

import (
	"context"
	"fmt"

	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/slap"
)

// InitializeApplication 是应用启动时执行的总入口
func InitializeApplication(ctx context.Context, svc *slap.Service, cfg config.Config) error {
	logging.Info().Str("counter", svc.Key()).Msg("开始应用初始化...")

	err := svc.Prime(ctx, slap.PrimeOptions{
		AutoMigrate: cfg.Database.SQL.AutoMigrate,
		Retention:   cfg.Retention.Events,
	})
	if err != nil {
		return fmt.Errorf("计数器模块初始化失败: %w", err)
	}

	logging.Info().Msg("应用初始化完成")
	return nil
}

// RebuildCache 在Redis重启或从降级中恢复后重新预热计数器，并立即写入一次快照
func RebuildCache(ctx context.Context, svc *slap.Service) error {
	logging.Info().Msg("开始计数器缓存重建...")

	if _, err := svc.WarmupCache(ctx); err != nil {
		return err
	}

	if err := svc.Snapshot(ctx); err != nil {
		logging.Warn().Err(err).Msg("缓存重建后的快照失败")
	}
	logging.Info().Msg("计数器缓存重建完成")
	return nil
}
