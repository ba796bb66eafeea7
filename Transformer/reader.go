// Package Transformer 把外部矢量文件（GeoJSON、KML、Shapefile）读成 GeoJSON 要素集合
package Transformer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// ReadFile 按扩展名选择解析方式
func ReadFile(path string) (*geojson.FeatureCollection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ShpToGeojson(path)
	case ".kml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return KmlToGeojson(f)
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return fc, nil
	}
	return nil, fmt.Errorf("unsupported file type %s", filepath.Ext(path))
}
