package slap

import (
	"context"
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

// Pruner 定期删除关系库中超过保留期的审计事件。
// 文档存储的过期由TTL索引完成，不经过这里。
type Pruner struct {
	store     *SQLStore
	retention time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewPruner 创建清理器。retention 为0时 Enabled 返回false。
func NewPruner(store *SQLStore, retention, interval time.Duration, batchSize int) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Enabled 报告清理器是否需要运行
func (p *Pruner) Enabled() bool {
	return p != nil && p.store != nil && p.retention > 0
}

// PruneOnce 执行一次清理，返回删除的事件数量
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneBefore(ctx, cutoff, p.batchSize)
	if n > 0 {
		metrics.PrunedEvents.Add(float64(n))
	}
	return n, err
}

// Run 在后台循环清理，直到 handle 发出停机信号
func (p *Pruner) Run(handle *lifecycle.Handle) {
	defer handle.Close()
	logging.Info().Dur("retention", p.retention).Dur("interval", p.interval).Msg("审计事件清理器已启动")

	for {
		if err := handle.Sleep(p.interval); err != nil {
			logging.Info().Msg("审计事件清理器: 收到停机信号，正在关闭")
			return
		}

		n, err := p.PruneOnce(handle.Ctx())
		if err != nil {
			if handle.Err() != nil {
				return
			}
			logging.Warn().Err(err).Int64("deleted", n).Msg("审计事件清理失败")
			continue
		}
		if n > 0 {
			logging.Info().Int64("deleted", n).Msg("已清理过期的审计事件")
		}
	}
}
