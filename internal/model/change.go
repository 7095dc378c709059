package model

import "time"

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Txn 一次事件写事务；ID 即下发给客户端的 txid
type Txn struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Type      string    `gorm:"type:varchar(32);not null"`
	CreatorID string    `gorm:"type:varchar(36);index"`
	CreatedAt time.Time `gorm:"index"`
}

func (Txn) TableName() string { return "txns" }

// Change 变更日志（shape 订阅的数据源），ID 即 shape offset
type Change struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	TxID   int64  `gorm:"index;not null"`
	Entity string `gorm:"type:varchar(32);not null;index:idx_change_entity,priority:1"`
	Op     string `gorm:"type:varchar(8);not null"`
	Key    string `gorm:"type:varchar(128);not null"`
	// Scope 非空时只对该用户可见（通知按 recipient、书签按 creator）
	Scope     string    `gorm:"type:varchar(36);not null;default:'';index:idx_change_entity,priority:2"`
	Value     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (Change) TableName() string { return "changes" }
