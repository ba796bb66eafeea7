package pgmvt

import (
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

// PurgeThreshold 超过该数量的瓦片直接清空整个图层缓存
const PurgeThreshold = 200

// TileEvictor 瓦片缓存
type TileEvictor interface {
	EvictTiles(layer string, tiles []Tile) int
	PurgeLayer(layer string) int
}

// Invalidation 一次失效的结果
type Invalidation struct {
	Layer  string `json:"layer"`
	Tiles  []Tile `json:"tiles,omitempty"`
	Purged bool   `json:"purged"`
}

// AffectedTiles 多个几何覆盖的瓦片，去重
func AffectedTiles(geoms ...orb.Geometry) []Tile {
	seen := make(map[Tile]bool)
	var out []Tile
	for _, g := range geoms {
		for _, t := range Bounds(g) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// DelMVT 删除几何（修改前后）所在的缓存瓦片，瓦片过多时清空整个图层
func DelMVT(cache TileEvictor, layer string, geoms ...orb.Geometry) Invalidation {
	inv := Invalidation{Layer: layer}
	// 先计数（未去重），大范围几何不生成瓦片列表
	var total int64
	for _, g := range geoms {
		total += CountBounds(g)
	}
	if total == 0 {
		return inv
	}
	if total > int64(len(geoms))*PurgeThreshold {
		return DelMVTALL(cache, layer)
	}
	tiles := AffectedTiles(geoms...)
	if len(tiles) > PurgeThreshold {
		return DelMVTALL(cache, layer)
	}
	inv.Tiles = tiles
	if cache != nil {
		n := cache.EvictTiles(layer, tiles)
		log.Debug().Str("layer", layer).Int("tiles", len(tiles)).Int("evicted", n).Msg("tiles invalidated")
	}
	return inv
}

func DelMVTALL(cache TileEvictor, layer string) Invalidation {
	if cache != nil {
		n := cache.PurgeLayer(layer)
		log.Debug().Str("layer", layer).Int("evicted", n).Msg("layer tiles purged")
	}
	return Invalidation{Layer: layer, Purged: true}
}
