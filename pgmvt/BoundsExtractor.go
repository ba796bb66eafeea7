package pgmvt

import (
	"github.com/paulmach/orb"
)

// Bounds 几何外包框在 6-18 级覆盖的瓦片，点要素只取所在瓦片
func Bounds(geo orb.Geometry) []Tile {
	if geo == nil {
		return nil
	}
	if p, ok := geo.(orb.Point); ok {
		return GetPointTile(p[0], p[1])
	}
	aa := geo.Bound()
	xmin, ymin := epsg4326_to_epsg3857(aa.Min[0], aa.Min[1])
	xmax, ymax := epsg4326_to_epsg3857(aa.Max[0], aa.Max[1])
	return TileGenerate(xmin, ymin, xmax, ymax)
}

// CountBounds Bounds 将返回的瓦片数
func CountBounds(geo orb.Geometry) int64 {
	if geo == nil {
		return 0
	}
	if _, ok := geo.(orb.Point); ok {
		return MaxZoom - MinZoom + 1
	}
	aa := geo.Bound()
	xmin, ymin := epsg4326_to_epsg3857(aa.Min[0], aa.Min[1])
	xmax, ymax := epsg4326_to_epsg3857(aa.Max[0], aa.Max[1])
	return TileCount(xmin, ymin, xmax, ymax)
}

func KeepTile(zoom_level int64, tiles []Tile) []Tile {
	var newtiles []Tile
	for _, item := range tiles {
		if item.Z == zoom_level {
			newtiles = append(newtiles, item)
		}
	}
	return newtiles
}
