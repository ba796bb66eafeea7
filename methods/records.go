package methods

import (
	"time"

	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"

	"github.com/GrainArc/GeoEdit/models"
)

const (
	RecordInsert = "insert"
	RecordUpdate = "update"
	RecordDelete = "delete"
)

// AddRecord 写入一条编辑历史
func AddRecord(db *gorm.DB, sessionID int64, typ string, row *models.StoredFeature, oldFeature, newFeature *geojson.Feature, username string) error {
	record := models.GeoRecord{
		Layer:      row.Layer,
		Key:        row.Key,
		GeoID:      row.ID,
		SessionID:  sessionID,
		Username:   username,
		Type:       typ,
		Date:       time.Now().Format("2006-01-02 15:04:05"),
		OldGeojson: FeatureJSON(oldFeature),
		NewGeojson: FeatureJSON(newFeature),
	}
	return db.Create(&record).Error
}

// Records 编辑历史，最新的在前。key 为空时返回整个图层
func Records(db *gorm.DB, layer, key string, limit int) ([]models.GeoRecord, error) {
	var records []models.GeoRecord
	query := db.Model(&models.GeoRecord{}).Where("layer = ?", layer)
	if key != "" {
		query = query.Where("feature_key = ?", key)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("id DESC").Find(&records).Error
	return records, err
}

// BeginSession 记录一次写请求的开始
func BeginSession(db *gorm.DB, handle, layer, username string) (*models.EditSession, error) {
	s := &models.EditSession{
		Handle:    handle,
		Layer:     layer,
		Username:  username,
		CreatedAt: time.Now().Format("2006-01-02 15:04:05"),
		Status:    models.SessionActive,
	}
	if err := db.Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// FinishSession 更新会话状态
func FinishSession(db *gorm.DB, s *models.EditSession, status string) error {
	return db.Model(s).Update("status", status).Error
}
