package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

// Timeouts 定义各停机阶段的最长等待时间
type Timeouts struct {
	HTTP     time.Duration
	Graceful time.Duration
	Forceful time.Duration
	Final    time.Duration
}

// DefaultTimeouts 返回默认的停机超时
func DefaultTimeouts() Timeouts {
	return Timeouts{
		HTTP:     15 * time.Second,
		Graceful: 30 * time.Second,
		Forceful: time.Second,
		Final:    10 * time.Second,
	}
}

// Coordinator 编排应用程序的优雅停机流程
type Coordinator struct {
	GracefulManager *lifecycle.Manager
	ForcefulManager *lifecycle.Manager
	Timeouts        Timeouts

	// FinalSnapshot 在所有后台服务退出后执行一次，可以为nil
	FinalSnapshot func(ctx context.Context) error
	// CloseStores 关闭存储客户端，可以为nil
	CloseStores func(ctx context.Context) error
}

// NewCoordinator 创建一个新的停机协调器
func NewCoordinator(gracefulMgr, forcefulMgr *lifecycle.Manager) *Coordinator {
	return &Coordinator{
		GracefulManager: gracefulMgr,
		ForcefulManager: forcefulMgr,
		Timeouts:        DefaultTimeouts(),
	}
}

// ListenForSignalsAndShutdown 阻塞直到收到 SIGINT/SIGTERM，然后执行停机流程
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	logging.Info().Str("signal", sig.String()).Msg("收到关闭信号，开始优雅停机...")
	c.Shutdown(server)
}

// Shutdown 依次关闭HTTP服务器、停止后台服务、写入最终快照并关闭存储客户端
func (c *Coordinator) Shutdown(server *http.Server) {
	// 关闭HTTP服务器，允许正在进行的请求完成
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeouts.HTTP)
		if err := server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("HTTP服务器关闭错误")
		} else {
			logging.Info().Msg("HTTP服务器已关闭")
		}
		cancel()
	}

	// 第一阶段: 优雅停机
	c.GracefulManager.Shutdown()
	remaining := c.GracefulManager.WaitWithTimeout(c.Timeouts.Graceful)
	if len(remaining) == 0 {
		logging.Info().Msg("所有后台服务已在第一阶段关闭")
	} else {
		// 第二阶段: 强制停机
		logging.Warn().Strs("services", remaining).Msg("第一阶段超时，发送强制停机信号")
		c.ForcefulManager.Shutdown()
		if left := c.ForcefulManager.WaitWithTimeout(c.Timeouts.Forceful); len(left) > 0 {
			logging.Error().Strs("services", left).Msg("部分后台服务未能退出")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeouts.Final)
	defer cancel()

	if c.FinalSnapshot != nil {
		if err := c.FinalSnapshot(ctx); err != nil {
			logging.Error().Err(err).Msg("最终快照失败")
		} else {
			logging.Info().Msg("最终快照成功")
		}
	}

	if c.CloseStores != nil {
		if err := c.CloseStores(ctx); err != nil {
			logging.Error().Err(err).Msg("关闭存储客户端失败")
		}
	}

	logging.Info().Msg("优雅停机完成")
}
