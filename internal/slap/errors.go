package slap

import "errors"

var (
	// ErrRateLimited 表示调用方超过了限流配额，这是策略拒绝而不是故障
	ErrRateLimited = errors.New("请求过于频繁")

	// ErrStorageUnready 表示权威存储尚未迁移或未能初始化，调用方可以稍后重试
	ErrStorageUnready = errors.New("存储尚未就绪")

	// errCounterMissing 表示某个后端上还没有计数器，读取总数时应转向下一个后端
	errCounterMissing = errors.New("计数器不存在")
)
