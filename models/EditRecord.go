package models

import "gorm.io/datatypes"

// GeoRecord 编辑历史，一次写操作一条
type GeoRecord struct {
	ID         int64  `gorm:"primary_key"`
	Layer      string `gorm:"type:varchar(255);index"`
	Key        string `gorm:"column:feature_key;type:varchar(255);index"`
	Username   string `gorm:"type:varchar(255)"`
	Type       string `gorm:"type:varchar(255)"` // insert / update / delete
	Date       string `gorm:"type:varchar(255)"`
	BZ         string `gorm:"type:varchar(255)"`
	GeoID      int64
	SessionID  int64          `gorm:"index"`
	OldGeojson datatypes.JSON `gorm:"type:jsonb"`
	NewGeojson datatypes.JSON `gorm:"type:jsonb"`
}
