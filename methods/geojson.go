package methods

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/GrainArc/GeoEdit/models"
)

// GeoJsonToWKB 几何转 WKB，保持原几何类型与点序
func GeoJsonToWKB(geom orb.Geometry) ([]byte, error) {
	if geom == nil {
		return nil, fmt.Errorf("feature has no geometry")
	}
	return wkb.Marshal(geom)
}

func WKBToGeometry(data []byte) (orb.Geometry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty geometry")
	}
	return wkb.Unmarshal(data)
}

// cleanProperties 去掉 id，本地或客户端 id 不入库
func cleanProperties(props geojson.Properties) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for key, value := range props {
		if key != "id" {
			out[key] = value
		}
	}
	return out
}

func decodeProperties(row *models.StoredFeature) (map[string]interface{}, error) {
	props := make(map[string]interface{})
	if len(row.Properties) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(row.Properties, &props); err != nil {
		return nil, fmt.Errorf("feature %d properties: %w", row.ID, err)
	}
	return props, nil
}

// RowToFeature 数据库记录转 GeoJSON 要素，要素 id 为记录 id
func RowToFeature(row *models.StoredFeature) (*geojson.Feature, error) {
	geom, err := WKBToGeometry(row.Geom)
	if err != nil {
		return nil, fmt.Errorf("feature %d geometry: %w", row.ID, err)
	}
	props, err := decodeProperties(row)
	if err != nil {
		return nil, err
	}
	feature := geojson.NewFeature(geom)
	feature.ID = row.ID
	feature.Properties = props
	return feature, nil
}

// MakeGeoJSON 多条记录转 FeatureCollection
func MakeGeoJSON(rows []models.StoredFeature) (*geojson.FeatureCollection, error) {
	features := geojson.NewFeatureCollection()
	for i := range rows {
		f, err := RowToFeature(&rows[i])
		if err != nil {
			return nil, err
		}
		features.Append(f)
	}
	return features, nil
}

// FeatureJSON 编辑历史中保存的 GeoJSON，nil 要素返回 nil
func FeatureJSON(f *geojson.Feature) []byte {
	if f == nil {
		return nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return data
}
