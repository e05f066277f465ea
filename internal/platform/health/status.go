package health

import (
	"sync"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
)

// State 是Redis快速路径的健康状态
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateRebuilding:
		return "rebuilding"
	}
	return "unknown"
}

// redisStatus 根据每次检查的连通性和 run_id 推进Redis的状态。
// run_id 变化说明Redis重启过，内存中的计数器可能已经丢失，需要重新预热；
// 从降级中恢复时同样需要预热，把降级期间的计数合并回Redis。
type redisStatus struct {
	mu             sync.RWMutex
	state          State
	lastKnownRunID string
}

func (rs *redisStatus) State() State {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.state
}

func (rs *redisStatus) RunID() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.lastKnownRunID
}

// Assess 记录一次检查结果，返回是否需要重新预热
func (rs *redisStatus) Assess(connected bool, runID string) (needsRebuild bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	restarted := connected && rs.lastKnownRunID != "" && rs.lastKnownRunID != runID

	switch rs.state {
	case StateHealthy:
		if !connected {
			rs.state = StateDegraded
			logging.Warn().Msg("健康检查: Redis连接丢失，状态 -> [降级]")
		} else if restarted {
			rs.state = StateRebuilding
			needsRebuild = true
			logging.Warn().Str("from", rs.lastKnownRunID).Str("to", runID).Msg("健康检查: 检测到Redis重启，状态 -> [重建中]")
		}
	case StateDegraded:
		if connected {
			if restarted {
				rs.state = StateRebuilding
				needsRebuild = true
				logging.Warn().Str("from", rs.lastKnownRunID).Str("to", runID).Msg("健康检查: Redis已恢复但曾经重启，状态 -> [重建中]")
			} else {
				// 降级期间的计数落在了其它后端，需要合并回Redis
				rs.state = StateRebuilding
				needsRebuild = true
				logging.Info().Msg("健康检查: Redis连接已恢复，状态 -> [重建中]")
			}
		}
	case StateRebuilding:
		if !connected {
			rs.state = StateDegraded
			logging.Warn().Msg("健康检查: 重建期间Redis连接再次丢失，状态 -> [降级]")
		} else {
			// 上一次重建没有成功
			needsRebuild = true
		}
	}

	if connected {
		rs.lastKnownRunID = runID
	}
	return needsRebuild
}

// MarkRebuildComplete 在一次重建尝试之后调用。
// 重建期间 run_id 又变了，说明重建写入的是已经重启前的实例，保持 [重建中] 等下一轮重试。
func (rs *redisStatus) MarkRebuildComplete(success bool, runIDAfter string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.state != StateRebuilding {
		return
	}
	if success && rs.lastKnownRunID != runIDAfter {
		logging.Error().Str("from", rs.lastKnownRunID).Str("to", runIDAfter).Msg("健康检查: 重建期间Redis再次重启，重建无效")
		rs.lastKnownRunID = runIDAfter
		return
	}
	if success {
		rs.state = StateHealthy
		logging.Info().Msg("健康检查: 计数器预热成功，状态 -> [健康]")
		return
	}
	logging.Error().Msg("健康检查: 计数器预热失败，保持 [重建中] 以待重试")
}
