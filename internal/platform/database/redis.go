package database

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
)

// NewRedis 创建Redis客户端。
// go-redis 在第一次执行命令时才会建立连接，因此这里不会阻塞，也不会因为Redis暂时不可用而失败。
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if strings.Contains(cfg.URL, "://") {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("无法解析REDIS_URL: %w", err)
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		return redis.NewClient(opts), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
