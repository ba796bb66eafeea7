package methods

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"

	"github.com/GrainArc/GeoEdit/models"
	"github.com/GrainArc/GeoEdit/wfst"
)

var ErrNotFound = errors.New("feature not found")

// FeatureStore 单个图层的要素读写，KeyAttribute 为自然键字段
type FeatureStore struct {
	Layer        string
	KeyAttribute string
}

func (s FeatureStore) scope(db *gorm.DB) *gorm.DB {
	return db.Model(&models.StoredFeature{}).Where("layer = ?", s.Layer)
}

func (s FeatureStore) List(db *gorm.DB) ([]models.StoredFeature, error) {
	var rows []models.StoredFeature
	if err := s.scope(db).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Get 按记录 id 查找，id 可以是 "3" 或 "barrios.3"。自然键不参与解析，避免键值恰好是另一条记录的 id
func (s FeatureStore) Get(db *gorm.DB, id string) (*models.StoredFeature, error) {
	n, ok := featureIDNumber(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByID(db, n)
}

// GetByKey 按自然键查找，键值重复时取 id 最小的一条
func (s FeatureStore) GetByKey(db *gorm.DB, key string) (*models.StoredFeature, error) {
	var row models.StoredFeature
	err := s.scope(db).Where("feature_key = ?", key).Order("id").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Insert 新增要素，忽略要素自带的 id
func (s FeatureStore) Insert(db *gorm.DB, f *geojson.Feature) (*models.StoredFeature, error) {
	if f == nil {
		return nil, fmt.Errorf("nil feature")
	}
	geom, err := GeoJsonToWKB(f.Geometry)
	if err != nil {
		return nil, err
	}
	props := cleanProperties(f.Properties)
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	row := &models.StoredFeature{
		Layer:      s.Layer,
		Key:        wfst.FormatValue(props[s.KeyAttribute]),
		Geom:       geom,
		Properties: data,
	}
	if err := db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to insert feature: %w", err)
	}
	return row, nil
}

// Update 合并属性并替换几何。geom 为 nil 时保留原几何；属性值为 nil 表示删除该属性
func (s FeatureStore) Update(db *gorm.DB, row *models.StoredFeature, geom orb.Geometry, props map[string]interface{}) error {
	current, err := decodeProperties(row)
	if err != nil {
		return err
	}
	for key, value := range props {
		if key == "id" {
			continue
		}
		if value == nil {
			delete(current, key)
			continue
		}
		current[key] = value
	}
	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	if geom != nil {
		if row.Geom, err = GeoJsonToWKB(geom); err != nil {
			return err
		}
	}
	row.Properties = data
	row.Key = wfst.FormatValue(current[s.KeyAttribute])
	if err := db.Save(row).Error; err != nil {
		return fmt.Errorf("failed to update feature %d: %w", row.ID, err)
	}
	return nil
}

func (s FeatureStore) Delete(db *gorm.DB, row *models.StoredFeature) error {
	if err := db.Delete(&models.StoredFeature{}, row.ID).Error; err != nil {
		return fmt.Errorf("failed to delete feature %d: %w", row.ID, err)
	}
	return nil
}

// featureIDNumber "barrios.3" 或 "3" 取记录 id
func featureIDNumber(fid string) (int64, bool) {
	if i := strings.LastIndex(fid, "."); i >= 0 {
		fid = fid[i+1:]
	}
	n, err := strconv.ParseInt(fid, 10, 64)
	return n, err == nil
}

// FeatureID WFS 响应中的要素 id
func (s FeatureStore) FeatureID(row *models.StoredFeature) string {
	name := s.Layer
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return name + "." + strconv.FormatInt(row.ID, 10)
}

// Find 按 WFS 过滤条件查找。自然键与 id 走索引，其他属性在内存中比较
func (s FeatureStore) Find(db *gorm.DB, filter *wfst.Filter) ([]models.StoredFeature, error) {
	if filter == nil {
		return nil, fmt.Errorf("missing filter")
	}
	var rows []models.StoredFeature
	if len(filter.FeatureIDs) > 0 {
		var ids []int64
		for _, fid := range filter.FeatureIDs {
			if n, ok := featureIDNumber(fid); ok {
				ids = append(ids, n)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
		err := s.scope(db).Where("id IN ?", ids).Order("id").Find(&rows).Error
		return rows, err
	}

	name := filter.PropertyName
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case s.KeyAttribute:
		err := s.scope(db).Where("feature_key = ?", filter.Literal).Order("id").Find(&rows).Error
		return rows, err
	case "id":
		n, err := strconv.ParseInt(filter.Literal, 10, 64)
		if err != nil {
			return nil, nil
		}
		err = s.scope(db).Where("id = ?", n).Find(&rows).Error
		return rows, err
	}

	all, err := s.List(db)
	if err != nil {
		return nil, err
	}
	for i := range all {
		props, err := decodeProperties(&all[i])
		if err != nil {
			return nil, err
		}
		if wfst.FormatValue(props[name]) == filter.Literal {
			rows = append(rows, all[i])
		}
	}
	return rows, nil
}

func (s FeatureStore) GetByID(db *gorm.DB, id int64) (*models.StoredFeature, error) {
	var row models.StoredFeature
	err := s.scope(db).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Replace 用要素整体覆盖几何与属性，不做合并
func (s FeatureStore) Replace(db *gorm.DB, row *models.StoredFeature, f *geojson.Feature) error {
	geom, err := GeoJsonToWKB(f.Geometry)
	if err != nil {
		return err
	}
	props := cleanProperties(f.Properties)
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	row.Geom = geom
	row.Properties = data
	row.Key = wfst.FormatValue(props[s.KeyAttribute])
	if err := db.Save(row).Error; err != nil {
		return fmt.Errorf("failed to replace feature %d: %w", row.ID, err)
	}
	return nil
}
