package models

import (
	"time"

	"gorm.io/datatypes"
)

// StoredFeature 持久化的要素。几何以 WKB 保存，属性为 JSON
type StoredFeature struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	Layer      string         `gorm:"type:varchar(255);index:idx_layer_key"`
	Key        string         `gorm:"column:feature_key;type:varchar(255);index:idx_layer_key"`
	Geom       []byte
	Properties datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt  time.Time
}

// LayerMeta 图层元数据：分类、表名与分级样式
type LayerMeta struct {
	ID          int64          `gorm:"primary_key;autoIncrement"`
	Main        string         `gorm:"type:varchar(255)"` // 分类
	EN          string         `gorm:"type:varchar(255);uniqueIndex"`
	CN          string         `gorm:"type:varchar(255)"`
	Type        string         `gorm:"type:varchar(255)"`
	Interactive bool
	Source      datatypes.JSON `gorm:"type:jsonb"` // 分级样式
	UpdatedDate string         `gorm:"type:varchar(255)"`
}
