package slap

import (
	"time"
)

// GlobalStat 是一个具名计数器。每个 Key 只有一行，Count 只会单调增加。
type GlobalStat struct {
	ID uint `gorm:"primarykey"`

	// Key 是计数器的唯一名称，例如 "slaps"
	Key string `gorm:"uniqueIndex;not null;type:varchar(64)"`

	// Count 是当前的总数
	Count int64 `gorm:"not null;default:0"`

	UpdatedAt time.Time
}

// SlapEvent 是一次计数增加的审计记录，创建后不再修改
type SlapEvent struct {
	ID uint `gorm:"primarykey"`

	// Amount 是本次增加的数量，目前恒为1
	Amount int `gorm:"not null;default:1"`

	// IPHash 是调用方地址的SHA-256摘要，从不保存原始地址
	IPHash string `gorm:"type:varchar(64);not null"`

	CreatedAt time.Time `gorm:"index"`
}

// Event 是一次计数增加携带的审计信息，与具体后端无关
type Event struct {
	Amount    int
	IPHash    string
	CreatedAt time.Time
	// Floor 是本进程已经返回过的最大总数，计数后端从不低于它的值继续增加
	Floor int64
}

// Outcome 是计数后端返回的结果
type Outcome struct {
	Total int64
	// Audited 表示后端已经在同一个原子操作里写入了审计记录
	Audited bool
}
