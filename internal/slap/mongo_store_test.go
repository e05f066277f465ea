package slap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// openMongo 连接 MONGODB_TEST_URI 指向的实例，并为每个测试使用独立的数据库
func openMongo(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI 未设置，跳过文档存储测试")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("slaps_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db.Drop(ctx)
		client.Disconnect(ctx)
	})
	return db
}

func TestMongoStore_RecordAndTotal(t *testing.T) {
	store := NewMongoStore(openMongo(t))
	ctx := context.Background()

	require.NoError(t, store.EnsureIndexes(ctx, 24*time.Hour))

	_, err := store.Total(ctx, testKey)
	assert.ErrorIs(t, err, errCounterMissing)

	ev := Event{Amount: 1, IPHash: "h", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Record(ctx, testKey, ev, 3))
	require.NoError(t, store.Record(ctx, testKey, ev, 2))

	total, err := store.Total(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "镜像只增不减")

	n, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func startedCommands(mt *mtest.T) []string {
	var names []string
	for _, ev := range mt.GetAllStartedEvents() {
		names = append(names, ev.CommandName)
	}
	return names
}

func TestMongoStore_RecordMirrorFailure(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ev := Event{Amount: 1, IPHash: "h", CreatedAt: time.Now().UTC()}

	mt.Run("mirror failure does not fail the audit", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad value"}),
		)

		// 事件已经写入，不能让调用方再去其它后端审计一次
		require.NoError(mt, store.Record(context.Background(), testKey, ev, 5))
		assert.Equal(mt, []string{"insert", "update"}, startedCommands(mt))
	})

	mt.Run("duplicate key on upsert is retried", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}),
			mtest.CreateSuccessResponse(),
		)

		require.NoError(mt, store.Record(context.Background(), testKey, ev, 5))
		assert.Equal(mt, []string{"insert", "update", "update"}, startedCommands(mt))
	})

	mt.Run("insert failure is reported", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 2, Message: "bad value"}),
		)

		err := store.Record(context.Background(), testKey, ev, 5)
		require.Error(mt, err)
		assert.Equal(mt, []string{"insert"}, startedCommands(mt))
	})
}
