package slap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
)

// PrimeOptions 控制启动时的初始化行为
type PrimeOptions struct {
	// AutoMigrate 为true时自动迁移关系库表结构
	AutoMigrate bool
	// Retention 是审计事件的保留期，用于创建文档存储的TTL索引；0表示永久保留
	Retention time.Duration
}

// Prime 负责计数器模块的启动初始化：迁移表结构、写入计数器行、创建索引、预热Redis。
// 存储尚未就绪不会让启动失败，服务会以503响应直到存储就绪。
func (s *Service) Prime(ctx context.Context, opts PrimeOptions) error {
	log := logging.Ctx(ctx)

	// 1. 关系库: 迁移并写入计数器行
	if sql := s.backends.SQL; sql != nil {
		if opts.AutoMigrate {
			if err := sql.Migrate(ctx); err != nil {
				if !errors.Is(err, ErrStorageUnready) {
					return err
				}
				log.Warn().Err(err).Msg("关系库尚未就绪，跳过表结构迁移")
			} else {
				log.Info().Msg("计数器数据库表迁移成功")
			}
		}
		if err := sql.Seed(ctx, s.key); err != nil {
			if !errors.Is(err, ErrStorageUnready) {
				return fmt.Errorf("无法写入计数器行: %w", err)
			}
			log.Warn().Err(err).Msg("关系库尚未迁移，计数请求将返回503直到迁移完成")
		}
	}

	// 2. 文档存储: 索引失败只影响保留策略和查询效率
	if mongo := s.backends.Mongo; mongo != nil {
		if err := mongo.EnsureIndexes(ctx, opts.Retention); err != nil {
			log.Warn().Err(err).Msg("创建文档存储索引失败")
		}
	}

	// 3. Redis: 从持久化的总数预热
	if _, err := s.WarmupCache(ctx); err != nil {
		log.Warn().Err(err).Msg("Redis计数器预热失败，快速路径将从当前值继续")
	}
	return nil
}

// WarmupCache 把Redis计数器抬高到持久化存储与本进程已知总数中的较大者，从不降低它。
// Redis重启、数据丢失或从降级中恢复后调用。返回是否实际写入了Redis。
func (s *Service) WarmupCache(ctx context.Context) (bool, error) {
	if s.backends.Redis == nil {
		return false, nil
	}

	persisted, err := s.persistedTotal(ctx)
	if err != nil {
		return false, err
	}
	target := max(persisted, s.highWater.Load())

	written, err := s.backends.Redis.Warmup(ctx, s.key, target)
	if err != nil {
		return false, err
	}
	if written {
		logging.Ctx(ctx).Info().Int64("total", target).Msg("已从持久化存储预热Redis计数器")
	}
	return written, nil
}

// persistedTotal 返回关系库与文档存储镜像中的较大值。
// 尚未就绪或没有计数器的存储视为0，其它读取错误会让预热失败。
func (s *Service) persistedTotal(ctx context.Context) (int64, error) {
	var total int64
	if sql := s.backends.SQL; sql != nil {
		n, err := sql.Total(ctx, s.key)
		switch {
		case errors.Is(err, ErrStorageUnready):
			logging.Ctx(ctx).Warn().Err(err).Msg("关系库尚未就绪，预热时忽略其总数")
		case err != nil:
			return 0, fmt.Errorf("无法读取关系库总数: %w", err)
		default:
			total = max(total, n)
		}
	}
	if mongo := s.backends.Mongo; mongo != nil {
		n, err := mongo.Total(ctx, s.key)
		switch {
		case errors.Is(err, errCounterMissing):
		case err != nil:
			return 0, fmt.Errorf("无法读取文档存储总数: %w", err)
		default:
			total = max(total, n)
		}
	}
	return total, nil
}

// Snapshot 把Redis中的计数值写回关系库，只会让关系库中的值变大。
// 未同时配置Redis和关系库时什么也不做。
func (s *Service) Snapshot(ctx context.Context) error {
	if s.backends.Redis == nil || s.backends.SQL == nil {
		return nil
	}

	total, err := s.backends.Redis.Total(ctx, s.key)
	if errors.Is(err, errCounterMissing) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.backends.SQL.SnapshotMax(ctx, s.key, total); err != nil {
		return fmt.Errorf("写入计数器快照失败: %w", err)
	}
	return nil
}
