package main

import (
	"time"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/pkg/lifecycle"
)

// sweeper 清理进程内已过期的状态，返回删除的条目数
type sweeper interface {
	Sweep() int
}

// runJanitor 定期清理限流器和幂等守卫的进程内状态
func runJanitor(handle *lifecycle.Handle, interval time.Duration, sweepers map[string]sweeper) {
	for {
		if err := handle.Sleep(interval); err != nil {
			return
		}
		for name, s := range sweepers {
			if n := s.Sweep(); n > 0 {
				logging.Debug().Str("component", name).Int("removed", n).Msg("已清理过期的进程内状态")
			}
		}
	}
}
