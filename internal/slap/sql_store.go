package slap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
)

// SQLStore 是关系型数据库上的计数器与审计日志，是全功能的后备路径
type SQLStore struct {
	stores *database.Stores
}

// NewSQLStore 基于共享的存储客户端创建 SQLStore
func NewSQLStore(stores *database.Stores) *SQLStore {
	return &SQLStore{stores: stores}
}

// classifySQLError 把"表不存在/客户端未初始化"一类的错误标记为 ErrStorageUnready
func classifySQLError(err error) error {
	if err == nil {
		return nil
	}
	if database.IsStorageUnready(err) {
		return fmt.Errorf("%w: %w", ErrStorageUnready, err)
	}
	return err
}

func (s *SQLStore) db(ctx context.Context) (*gorm.DB, error) {
	db, err := s.stores.SQL()
	if err != nil {
		return nil, classifySQLError(err)
	}
	return db.WithContext(ctx), nil
}

// Migrate 迁移 GlobalStat 与 SlapEvent 表结构
func (s *SQLStore) Migrate(ctx context.Context) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&GlobalStat{}, &SlapEvent{}); err != nil {
		return fmt.Errorf("无法迁移计数器表: %w", err)
	}
	return nil
}

// Seed 确保计数器行存在，已存在时不做任何修改
func (s *SQLStore) Seed(ctx context.Context, key string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&GlobalStat{Key: key, Count: 0}).Error
	return classifySQLError(err)
}

// Increment 在一个事务中写入审计事件并对计数器行做 upsert(+Amount)，返回事务后的总数。
// 两步要么都生效要么都不生效。
func (s *SQLStore) Increment(ctx context.Context, key string, ev Event) (Outcome, error) {
	db, err := s.db(ctx)
	if err != nil {
		return Outcome{}, err
	}

	const maxRetry = 3
	const delay = 50 * time.Millisecond
	floor := max(ev.Floor, 0)

	var stat GlobalStat
	for i := 0; i < maxRetry; i++ {
		stat = GlobalStat{}
		err = db.Transaction(func(tx *gorm.DB) error {
			// 1. 写入审计事件
			event := SlapEvent{Amount: ev.Amount, IPHash: ev.IPHash, CreatedAt: ev.CreatedAt}
			if err := tx.Create(&event).Error; err != nil {
				return fmt.Errorf("写入SlapEvent失败: %w", err)
			}

			// 2. upsert 计数器行，从 max(count, Floor) 继续增加；不存在时以 Floor+Amount 创建
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "key"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"count": gorm.Expr("CASE WHEN global_stats.count < ? THEN ? ELSE global_stats.count END + ?",
						floor, floor, ev.Amount),
					"updated_at": ev.CreatedAt,
				}),
			}).Create(&GlobalStat{Key: key, Count: floor + int64(ev.Amount), UpdatedAt: ev.CreatedAt}).Error
			if err != nil {
				return fmt.Errorf("更新GlobalStat失败: %w", err)
			}

			// 3. 在同一事务内读回总数
			return tx.Where(&GlobalStat{Key: key}).First(&stat).Error
		})
		if err == nil || !database.IsRetryableError(err) {
			break
		}
		time.Sleep(delay)
	}
	if err != nil {
		return Outcome{}, classifySQLError(err)
	}

	return Outcome{Total: stat.Count, Audited: true}, nil
}

// Record 只写入一条审计事件，用于快速路径上文档存储不可用时的后备
func (s *SQLStore) Record(ctx context.Context, _ string, ev Event, _ int64) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	event := SlapEvent{Amount: ev.Amount, IPHash: ev.IPHash, CreatedAt: ev.CreatedAt}
	return classifySQLError(db.Create(&event).Error)
}

// Total 读取计数器的当前值，计数器行不存在时返回0
func (s *SQLStore) Total(ctx context.Context, key string) (int64, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var stat GlobalStat
	err = db.Where(&GlobalStat{Key: key}).First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, classifySQLError(err)
	}
	return stat.Count, nil
}

// SnapshotMax 把外部的计数值写入计数器行，只会让 Count 变大，不会变小
func (s *SQLStore) SnapshotMax(ctx context.Context, key string, value int64) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("CASE WHEN global_stats.count < ? THEN ? ELSE global_stats.count END", value, value),
			"updated_at": now,
		}),
	}).Create(&GlobalStat{Key: key, Count: value, UpdatedAt: now}).Error
	return classifySQLError(err)
}

// PruneBefore 分批删除 cutoff 之前的审计事件，返回删除的总行数
func (s *SQLStore) PruneBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		expired := db.Model(&SlapEvent{}).Select("id").Where("created_at < ?", cutoff).Limit(batchSize)
		res := db.Where("id IN (?)", expired).Delete(&SlapEvent{})
		if res.Error != nil {
			return total, classifySQLError(res.Error)
		}
		total += res.RowsAffected
		if res.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}
