// Package backup 定期把快速路径上的计数值写回持久化存储。
package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

// DefaultInterval 是默认的快照频率
const DefaultInterval = time.Minute

// Snapshotter 执行一次快照
type Snapshotter interface {
	Snapshot(ctx context.Context) error
}

// Scheduler 定时执行快照，并保证同一时刻只有一次快照在进行
type Scheduler struct {
	snap     Snapshotter
	interval time.Duration
	// healthy 返回false时跳过本轮定时快照，可以为nil
	healthy func() bool

	mu sync.Mutex
}

// NewScheduler 创建快照调度器
func NewScheduler(snap Snapshotter, interval time.Duration, healthy func() bool) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{snap: snap, interval: interval, healthy: healthy}
}

// SnapshotNow 立即执行一次快照，与定时快照互斥
func (s *Scheduler) SnapshotNow(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Snapshot(ctx)
}

// Run 循环执行定时快照，直到 handle 发出停机信号。最终快照由停机流程负责。
func (s *Scheduler) Run(handle *lifecycle.Handle) {
	defer handle.Close()
	logging.Info().Dur("interval", s.interval).Msg("计数器快照调度器已启动")

	for {
		if err := handle.Sleep(s.interval); err != nil {
			logging.Info().Msg("快照调度器: 收到停机信号，正在关闭")
			return
		}

		if s.healthy != nil && !s.healthy() {
			logging.Debug().Msg("快照调度器: 快速路径不可用，跳过本次快照")
			continue
		}

		if err := s.SnapshotNow(handle.Ctx()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logging.Warn().Err(err).Msg("快照调度器: 执行快照失败")
		}
	}
}
