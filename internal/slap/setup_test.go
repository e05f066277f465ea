package slap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrime_MigratesAndSeeds(t *testing.T) {
	db := openSQLite(t, false)
	f := newFixture(t, fixtureOptions{db: db})
	ctx := context.Background()

	require.NoError(t, f.svc.Prime(ctx, PrimeOptions{AutoMigrate: true}))
	assert.Equal(t, int64(0), sqlTotal(t, db))

	// 重复执行不会重置计数器
	require.NoError(t, db.Model(&GlobalStat{}).Where(&GlobalStat{Key: testKey}).Update("count", 9).Error)
	require.NoError(t, f.svc.Prime(ctx, PrimeOptions{AutoMigrate: true}))
	assert.Equal(t, int64(9), sqlTotal(t, db))
}

func TestPrime_SchemaAbsentDoesNotFailStartup(t *testing.T) {
	db := openSQLite(t, false)
	f := newFixture(t, fixtureOptions{db: db})

	require.NoError(t, f.svc.Prime(context.Background(), PrimeOptions{AutoMigrate: false}))
	assert.False(t, db.Migrator().HasTable(&GlobalStat{}))
}

func TestWarmupCache(t *testing.T) {
	mr, rdb := setupRedis(t)
	db := openSQLite(t, true)
	f := newFixture(t, fixtureOptions{db: db, rdb: rdb})
	ctx := context.Background()

	require.NoError(t, db.Create(&GlobalStat{Key: testKey, Count: 7}).Error)

	written, err := f.svc.WarmupCache(ctx)
	require.NoError(t, err)
	assert.True(t, written)
	got, _ := mr.Get(globalKeyPrefix + testKey)
	assert.Equal(t, "7", got)

	res, err := f.svc.Slap(ctx, Request{Identity: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), *res.Total, "快速路径应从持久化的总数继续")

	// 不会压低已经更大的Redis计数器
	written, err = f.svc.WarmupCache(ctx)
	require.NoError(t, err)
	assert.False(t, written)
	got, _ = mr.Get(globalKeyPrefix + testKey)
	assert.Equal(t, "8", got)
}

func TestWarmupCache_RaisesStaleRedisValue(t *testing.T) {
	mr, rdb := setupRedis(t)
	db := openSQLite(t, true)
	f := newFixture(t, fixtureOptions{db: db, rdb: rdb})
	ctx := context.Background()

	require.NoError(t, db.Create(&GlobalStat{Key: testKey, Count: 10}).Error)
	require.NoError(t, mr.Set(globalKeyPrefix+testKey, "3"))

	written, err := f.svc.WarmupCache(ctx)
	require.NoError(t, err)
	assert.True(t, written)
	got, _ := mr.Get(globalKeyPrefix + testKey)
	assert.Equal(t, "10", got)
}

func TestWarmupCache_SchemaAbsentStartsFromZero(t *testing.T) {
	mr, rdb := setupRedis(t)
	f := newFixture(t, fixtureOptions{db: openSQLite(t, false), rdb: rdb})

	written, err := f.svc.WarmupCache(context.Background())
	require.NoError(t, err)
	assert.True(t, written)
	got, _ := mr.Get(globalKeyPrefix + testKey)
	assert.Equal(t, "0", got)
}

func TestWarmupCache_WithoutRedisIsNoop(t *testing.T) {
	f := newFixture(t, fixtureOptions{db: openSQLite(t, true)})

	written, err := f.svc.WarmupCache(context.Background())
	require.NoError(t, err)
	assert.False(t, written)
}

func TestSnapshot_KeepsLargerValue(t *testing.T) {
	mr, rdb := setupRedis(t)
	db := openSQLite(t, true)
	f := newFixture(t, fixtureOptions{db: db, rdb: rdb})
	ctx := context.Background()

	// Redis上还没有计数器时什么也不做
	require.NoError(t, f.svc.Snapshot(ctx))
	var rows int64
	require.NoError(t, db.Model(&GlobalStat{}).Count(&rows).Error)
	assert.Zero(t, rows)

	require.NoError(t, mr.Set(globalKeyPrefix+testKey, "12"))
	require.NoError(t, f.svc.Snapshot(ctx))
	assert.Equal(t, int64(12), sqlTotal(t, db))

	require.NoError(t, mr.Set(globalKeyPrefix+testKey, "5"))
	require.NoError(t, f.svc.Snapshot(ctx))
	assert.Equal(t, int64(12), sqlTotal(t, db), "快照不能让关系库中的值变小")
}

func TestPruner_DeletesExpiredEvents(t *testing.T) {
	db := openSQLite(t, true)
	f := newFixture(t, fixtureOptions{db: db})
	ctx := context.Background()

	now := f.clock.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&SlapEvent{Amount: 1, IPHash: "old", CreatedAt: now.Add(-48 * time.Hour)}).Error)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&SlapEvent{Amount: 1, IPHash: "new", CreatedAt: now.Add(-time.Hour)}).Error)
	}

	p := NewPruner(NewSQLStore(f.stores), 24*time.Hour, time.Hour, 2)
	p.now = f.clock.Now

	n, err := p.PruneOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, int64(3), countEvents(t, db))
}

func TestPruner_DisabledWithZeroRetention(t *testing.T) {
	db := openSQLite(t, true)
	f := newFixture(t, fixtureOptions{db: db})

	p := NewPruner(NewSQLStore(f.stores), 0, time.Hour, 100)
	assert.False(t, p.Enabled())

	n, err := p.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var nilPruner *Pruner
	assert.False(t, nilPruner.Enabled())
}
