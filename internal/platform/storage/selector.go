package storage

// Kind 标识一种存储后端
type Kind string

const (
	KindRedis Kind = "redis"
	KindMongo Kind = "mongo"
	KindSQL   Kind = "sql"
)

// Role 标识一次存储操作所承担的职责
type Role string

const (
	// RoleCounter 原子地增加全局计数，是权威路径
	RoleCounter Role = "counter"
	// RoleAudit 在快速路径上记录审计事件，尽力而为
	RoleAudit Role = "audit"
	// RoleLookup 为重复请求读取当前总数，尽力而为
	RoleLookup Role = "lookup"
)

// preferences 是每种职责的后端偏好顺序
var preferences = map[Role][]Kind{
	RoleCounter: {KindRedis, KindSQL},
	RoleAudit:   {KindMongo, KindSQL},
	RoleLookup:  {KindRedis, KindMongo, KindSQL},
}

// Selector 根据后端是否配置给出每种职责的尝试顺序。
// 它本身不做任何I/O，每次调用都会重新求值。
type Selector struct {
	configured func(Kind) bool
}

// NewSelector 创建选择器，configured 在每次 Plan 调用时被询问
func NewSelector(configured func(Kind) bool) *Selector {
	return &Selector{configured: configured}
}

// Plan 返回给定职责下应依次尝试的后端，可能为空
func (s *Selector) Plan(role Role) []Kind {
	prefs := preferences[role]
	plan := make([]Kind, 0, len(prefs))
	for _, kind := range prefs {
		if s.configured(kind) {
			plan = append(plan, kind)
		}
	}
	return plan
}
