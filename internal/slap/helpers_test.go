package slap

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SlpAus/slap-counter-backend/internal/idempotency"
	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
	"github.com/SlpAus/slap-counter-backend/internal/ratelimit"
)

const testKey = "slaps"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// openSQLite 打开一个临时的SQLite文件，migrate 为true时迁移表结构
func openSQLite(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "slaps.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if migrate {
		require.NoError(t, db.AutoMigrate(&GlobalStat{}, &SlapEvent{}))
	}
	return db
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

type fixture struct {
	svc    *Service
	stores *database.Stores
	clock  *fakeClock
}

type fixtureOptions struct {
	db      *gorm.DB
	rdb     *redis.Client
	rateMax int64
	clock   *fakeClock
}

// newFixture 按照给定的后端组装一个完整的 Service
func newFixture(t *testing.T, opts fixtureOptions) fixture {
	t.Helper()
	if opts.clock == nil {
		opts.clock = newFakeClock()
	}
	if opts.rateMax == 0 {
		opts.rateMax = ratelimit.DefaultMax
	}

	var storeOpts []database.Option
	if opts.db != nil {
		storeOpts = append(storeOpts, database.WithSQL(opts.db))
	}
	if opts.rdb != nil {
		storeOpts = append(storeOpts, database.WithRedis(opts.rdb))
	}
	stores := database.NewStoresWith(storeOpts...)

	limiter := ratelimit.New(opts.rdb, time.Minute, opts.rateMax, ratelimit.WithClock(opts.clock.Now))
	guard := idempotency.New(opts.rdb, time.Minute, idempotency.WithClock(opts.clock.Now))
	svc := NewService(testKey, NewBackends(stores), limiter, guard, WithServiceClock(opts.clock.Now))

	return fixture{svc: svc, stores: stores, clock: opts.clock}
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&SlapEvent{}).Count(&n).Error)
	return n
}

func sqlTotal(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var stat GlobalStat
	require.NoError(t, db.Where(&GlobalStat{Key: testKey}).First(&stat).Error)
	return stat.Count
}
