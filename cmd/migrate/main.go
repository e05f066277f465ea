// migrate 在部署前迁移关系库表结构并写入计数器行。
// 只有设置了 DATABASE_URL 时才会执行，否则直接退出。
package main

import (
	"context"
	"os"
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/slap"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		logging.Error().Err(err).Msg("无法加载环境变量文件")
		os.Exit(1)
	}
	if os.Getenv("DATABASE_URL") == "" {
		logging.Info().Msg("未设置 DATABASE_URL，跳过迁移")
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Error().Err(err).Msg("无法加载配置")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.OpenDB(cfg.Database.SQL)
	if err != nil {
		logging.Error().Err(err).Msg("无法连接数据库")
		os.Exit(1)
	}
	stores := database.NewStoresWith(database.WithSQL(db))
	defer stores.Close(context.Background())

	store := slap.NewSQLStore(stores)
	if err := store.Migrate(ctx); err != nil {
		logging.Error().Err(err).Msg("迁移失败")
		os.Exit(1)
	}
	if err := store.Seed(ctx, cfg.Counter.Key); err != nil {
		logging.Error().Err(err).Msg("写入计数器行失败")
		os.Exit(1)
	}
	logging.Info().Str("counter", cfg.Counter.Key).Msg("迁移完成")
}
