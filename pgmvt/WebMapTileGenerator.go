package pgmvt

import (
	"fmt"
	"math"
)

const HEMI_MAP_WIDTH = math.Pi * float64(6378137)

// 失效计算覆盖的级别
const (
	MinZoom int64 = 6
	MaxZoom int64 = 18
)

// Tile XYZ 瓦片坐标
type Tile struct {
	Z int64 `json:"z"`
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

func generate(zoomLevel int64, rbeg, rend, cbeg, cend int64) []Tile {
	tile_json := make([]Tile, 0, (rend-rbeg+1)*(cend-cbeg+1))
	for r := rbeg; r <= rend; r++ {
		for c := cbeg; c <= cend; c++ {
			tile_json = append(tile_json, Tile{Z: zoomLevel, X: c, Y: r})
		}
	}
	return tile_json
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type tileRange struct {
	z                      int64
	rbeg, rend, cbeg, cend int64
}

func (r tileRange) count() int64 {
	return (r.rend - r.rbeg + 1) * (r.cend - r.cbeg + 1)
}

func tileRanges(xmin, ymin, xmax, ymax float64) []tileRange {
	west, east, south, north := xmin, xmax, ymin, ymax
	ranges := make([]tileRange, 0, MaxZoom-MinZoom+1)
	for zoomLevel := MinZoom; zoomLevel <= MaxZoom; zoomLevel++ {
		numColumns := int64(math.Pow(2, float64(zoomLevel)))
		tileSize := 2.0 * HEMI_MAP_WIDTH / float64(numColumns)
		last := numColumns - 1
		ranges = append(ranges, tileRange{
			z:    zoomLevel,
			rbeg: clamp(int64(math.Floor((HEMI_MAP_WIDTH-north)/tileSize)), 0, last),
			rend: clamp(int64(math.Floor((HEMI_MAP_WIDTH-south)/tileSize)), 0, last),
			cbeg: clamp(int64(math.Floor((HEMI_MAP_WIDTH+west)/tileSize)), 0, last),
			cend: clamp(int64(math.Floor((HEMI_MAP_WIDTH+east)/tileSize)), 0, last),
		})
	}
	return ranges
}

// TileGenerate 3857 外包框在 MinZoom-MaxZoom 级覆盖的瓦片
func TileGenerate(xmin, ymin, xmax, ymax float64) []Tile {
	tile := make([]Tile, 0)
	for _, r := range tileRanges(xmin, ymin, xmax, ymax) {
		tile = append(tile, generate(r.z, r.rbeg, r.rend, r.cbeg, r.cend)...)
	}
	return tile
}

// TileCount 与 TileGenerate 相同范围内的瓦片数，不生成列表
func TileCount(xmin, ymin, xmax, ymax float64) int64 {
	var n int64
	for _, r := range tileRanges(xmin, ymin, xmax, ymax) {
		n += r.count()
	}
	return n
}

func GetPointTile(x float64, y float64) []Tile {
	tiles := make([]Tile, 0)

	// 遍历6-18级
	for zoom := MinZoom; zoom <= MaxZoom; zoom++ {
		// 使用现有的 LonLatToTile 函数计算瓦片坐标
		tileX, tileY := LonLatToTile(x, y, zoom)

		// 创建瓦片对象并添加到结果中
		tiles = append(tiles, Tile{
			Z: zoom,
			X: tileX,
			Y: tileY,
		})
	}

	return tiles
}

func LonLatToTile(lon, lat float64, zoom int64) (x, y int64) {
	// 1. 先转换为Web墨卡托坐标
	const (
		EarthRadius = 6378137.0
		OriginShift = 2 * math.Pi * EarthRadius / 2.0
	)

	mercX := lon * OriginShift / 180.0
	mercY := math.Log(math.Tan((90+lat)*math.Pi/360.0)) * OriginShift / math.Pi

	// 2. 计算瓦片坐标
	resolution := (2 * OriginShift) / math.Exp2(float64(zoom))
	x = int64(math.Floor((mercX + OriginShift) / resolution))
	y = int64(math.Floor((OriginShift - mercY) / resolution))

	// 3. 处理边界情况
	maxTile := int64(math.Exp2(float64(zoom))) - 1
	if x < 0 {
		x = 0
	} else if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	} else if y > maxTile {
		y = maxTile
	}

	return
}
