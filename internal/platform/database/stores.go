package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
)

// Stores 持有进程内唯一的一组存储客户端，在启动时构造一次、停机时关闭。
// Redis 与 MongoDB 客户端本身就是懒连接的；关系库的连接池在第一次使用时才打开，
// 打开失败时下一次调用会重新尝试，因此数据库晚于服务启动也不需要重启进程。
type Stores struct {
	Redis *redis.Client   // 未配置时为nil
	Mongo *mongo.Database // 未配置时为nil

	mongoClient *mongo.Client

	sqlConfigured bool
	sqlMu         sync.Mutex
	sqlDB         *gorm.DB
	openSQL       func() (*gorm.DB, error)
}

// Option 用于向 Stores 注入已经构造好的客户端，主要供测试使用
type Option func(*Stores)

// WithSQL 注入一个已打开的关系库连接
func WithSQL(db *gorm.DB) Option {
	return func(s *Stores) {
		s.sqlConfigured = db != nil
		s.sqlDB = db
	}
}

// WithRedis 注入Redis客户端
func WithRedis(rdb *redis.Client) Option {
	return func(s *Stores) { s.Redis = rdb }
}

// WithMongo 注入文档存储数据库
func WithMongo(db *mongo.Database) Option {
	return func(s *Stores) { s.Mongo = db }
}

// NewStores 根据配置构造存储客户端。只有地址格式错误会返回错误，后端不可达不会。
func NewStores(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	s := &Stores{}

	if cfg.HasRedis() {
		rdb, err := NewRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.Redis = rdb
	}

	if cfg.HasMongo() {
		client, db, err := NewMongo(ctx, cfg.Mongo)
		if err != nil {
			s.closeRedis()
			return nil, err
		}
		s.mongoClient = client
		s.Mongo = db
	}

	if cfg.HasSQL() {
		sqlCfg := cfg.SQL
		s.sqlConfigured = true
		s.openSQL = func() (*gorm.DB, error) { return OpenDB(sqlCfg) }
	}

	return s, nil
}

// NewStoresWith 只使用注入的客户端构造 Stores
func NewStoresWith(opts ...Option) *Stores {
	s := &Stores{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasSQL 表示是否配置了关系型数据库（不代表当前可用）
func (s *Stores) HasSQL() bool { return s.sqlConfigured }

// SQL 返回关系库连接池，必要时懒打开。
// 打开失败返回的错误满足 errors.Is(err, ErrSQLUnavailable)。
func (s *Stores) SQL() (*gorm.DB, error) {
	if !s.sqlConfigured {
		return nil, fmt.Errorf("%w: 未配置", ErrSQLUnavailable)
	}

	s.sqlMu.Lock()
	defer s.sqlMu.Unlock()

	if s.sqlDB != nil {
		return s.sqlDB, nil
	}
	if s.openSQL == nil {
		return nil, fmt.Errorf("%w: 未配置", ErrSQLUnavailable)
	}

	db, err := s.openSQL()
	if err != nil {
		return nil, err
	}
	s.sqlDB = db
	return db, nil
}

// Close 关闭所有已经建立的客户端
func (s *Stores) Close(ctx context.Context) error {
	var errs []error

	if err := s.closeRedis(); err != nil {
		errs = append(errs, fmt.Errorf("关闭Redis失败: %w", err))
	}
	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("关闭MongoDB失败: %w", err))
		}
	}

	s.sqlMu.Lock()
	db := s.sqlDB
	s.sqlDB = nil
	s.sqlMu.Unlock()
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("关闭数据库失败: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

func (s *Stores) closeRedis() error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}
