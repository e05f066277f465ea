package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
)

// NewMongo 创建文档存储客户端。mongo.Connect 只做参数校验并启动后台监视，不会等待服务器可达。
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("无法创建MongoDB客户端: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}
