package slap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
)

const (
	slapEventsCollection = "slapevents"
	globalStatCollection = "globalstat"
)

type slapEventDoc struct {
	Amount    int       `bson:"amount"`
	IPHash    string    `bson:"ipHash"`
	CreatedAt time.Time `bson:"createdAt"`
}

type globalStatDoc struct {
	Key   string `bson:"key"`
	Count int64  `bson:"count"`
}

// MongoStore 是文档存储上的审计日志，同时保存计数器的镜像供重复请求读取总数
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore 创建 MongoStore
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// Record 写入一条审计事件，并把计数器镜像推进到 total（只增不减）。
// 审计结果只取决于事件是否写入；镜像更新失败只记录日志，避免同一次计数在其它后端再审计一次。
func (s *MongoStore) Record(ctx context.Context, key string, ev Event, total int64) error {
	doc := slapEventDoc{Amount: ev.Amount, IPHash: ev.IPHash, CreatedAt: ev.CreatedAt}
	if _, err := s.db.Collection(slapEventsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("写入slapevents失败: %w", err)
	}

	if err := s.advanceMirror(ctx, key, total); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("total", total).Msg("更新globalstat失败，审计事件已写入")
	}
	return nil
}

// advanceMirror 对镜像做 $max upsert。并发的首次upsert可能撞上唯一索引，重试一次即可。
func (s *MongoStore) advanceMirror(ctx context.Context, key string, total int64) error {
	update := func() error {
		_, err := s.db.Collection(globalStatCollection).UpdateOne(ctx,
			bson.M{"key": key},
			bson.M{"$max": bson.M{"count": total}},
			options.Update().SetUpsert(true),
		)
		return err
	}
	err := update()
	if mongo.IsDuplicateKeyError(err) {
		err = update()
	}
	return err
}

// Total 读取计数器镜像
func (s *MongoStore) Total(ctx context.Context, key string) (int64, error) {
	var doc globalStatDoc
	err := s.db.Collection(globalStatCollection).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, errCounterMissing
	}
	if err != nil {
		return 0, fmt.Errorf("读取globalstat失败: %w", err)
	}
	return doc.Count, nil
}

// EnsureIndexes 创建计数器镜像的唯一索引；retention 大于0时为审计事件创建TTL索引
func (s *MongoStore) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	_, err := s.db.Collection(globalStatCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("创建globalstat索引失败: %w", err)
	}

	if retention <= 0 {
		return nil
	}
	_, err = s.db.Collection(slapEventsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
	})
	if err != nil {
		return fmt.Errorf("创建slapevents TTL索引失败: %w", err)
	}
	return nil
}

// CountEvents 返回审计事件数量
func (s *MongoStore) CountEvents(ctx context.Context) (int64, error) {
	return s.db.Collection(slapEventsCollection).CountDocuments(ctx, bson.M{})
}
