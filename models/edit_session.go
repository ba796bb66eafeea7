package models

// EditSession 一次写请求（WFS 事务或 REST 调用）对应的会话
type EditSession struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Handle    string `gorm:"type:varchar(255);index"` // WFS-T handle
	Layer     string `gorm:"type:varchar(255);index"`
	Username  string `gorm:"type:varchar(255)"`
	CreatedAt string `gorm:"type:varchar(255)"`
	Status    string `gorm:"type:varchar(50)"` // active / committed / rolledback
}

const (
	SessionActive     = "active"
	SessionCommitted  = "committed"
	SessionRolledBack = "rolledback"
)
