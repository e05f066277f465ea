package slap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// globalKeyPrefix 是Redis中计数器的键名前缀，值为整数字符串
const globalKeyPrefix = "global:"

// incrementScript 只在计数器存在时增加它。ARGV[2] 是下限，
// 当前值低于下限时先抬到下限再增加。键不存在时返回nil。
var incrementScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return false
end
if tonumber(cur) < tonumber(ARGV[2]) then
	redis.call('SET', KEYS[1], ARGV[2])
end
return redis.call('INCRBY', KEYS[1], ARGV[1])
`)

// raiseScript 只在新值更大（或键不存在）时写入，返回是否写入
var raiseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (not cur) or tonumber(cur) < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisStore 是键值存储上的计数器，即快速路径
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore 创建 RedisStore
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Increment 原子地增加计数器，审计记录由调用方另行写入。
// 计数器不存在（例如Redis重启丢失了数据）时返回 errCounterMissing，不会从0重新开始。
func (s *RedisStore) Increment(ctx context.Context, key string, ev Event) (Outcome, error) {
	total, err := incrementScript.Run(ctx, s.rdb, []string{globalKeyPrefix + key}, ev.Amount, ev.Floor).Int64()
	if errors.Is(err, redis.Nil) {
		return Outcome{}, errCounterMissing
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("Redis计数失败: %w", err)
	}
	return Outcome{Total: total}, nil
}

// Total 读取计数器。键不存在时返回 errCounterMissing，让读取转向下一个后端。
func (s *RedisStore) Total(ctx context.Context, key string) (int64, error) {
	total, err := s.rdb.Get(ctx, globalKeyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, errCounterMissing
	}
	if err != nil {
		return 0, fmt.Errorf("读取Redis计数失败: %w", err)
	}
	return total, nil
}

// Warmup 把计数器抬高到 value，只增不减，返回是否写入
func (s *RedisStore) Warmup(ctx context.Context, key string, value int64) (bool, error) {
	n, err := raiseScript.Run(ctx, s.rdb, []string{globalKeyPrefix + key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("预热Redis计数器失败: %w", err)
	}
	return n == 1, nil
}
