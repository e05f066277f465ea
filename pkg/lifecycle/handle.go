package lifecycle

import (
	"context"
	"time"
)

// Handle 是 Manager 分发给某个后台服务的句柄。
// 服务在退出前必须调用一次 Close（通常用 defer）。
type Handle struct {
	name string
	ctx  context.Context
	// Close 通知 Manager 该服务已经退出，重复调用是安全的
	Close func()
}

// Name 返回注册时使用的服务名
func (h *Handle) Name() string { return h.name }

// Ctx 返回随停机信号取消的上下文
func (h *Handle) Ctx() context.Context { return h.ctx }

// Done 在 Manager 广播停机信号后关闭
func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

// Err 在 Done 关闭后返回取消原因
func (h *Handle) Err() error { return h.ctx.Err() }

// Sleep 休眠 d，停机信号到达时提前返回 Err()
func (h *Handle) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h.Err()
	case <-timer.C:
		return nil
	}
}
