package draw

import (
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Buffer 内存实现的绘图缓冲区，每个加入的要素分配新的 uuid 本地 id
type Buffer struct {
	mu       sync.Mutex
	features []*geojson.Feature
	mode     Mode
	opts     Options
}

func NewBuffer() *Buffer {
	return &Buffer{mode: ModeSimpleSelect}
}

func cloneFeature(f *geojson.Feature) *geojson.Feature {
	c := geojson.NewFeature(nil)
	if f.Geometry != nil {
		c.Geometry = orb.Clone(f.Geometry)
	}
	c.ID = f.ID
	for k, v := range f.Properties {
		c.Properties[k] = v
	}
	return c
}

func (b *Buffer) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.features = nil
}

// Add 复制要素并分配本地 id；几何为空时不加入，返回空切片
func (b *Buffer) Add(f *geojson.Feature) []string {
	if f == nil || f.Geometry == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := cloneFeature(f)
	id := uuid.NewString()
	c.ID = id
	b.features = append(b.features, c)
	return []string{id}
}

// GetAll 返回缓冲区副本
func (b *Buffer) GetAll() *geojson.FeatureCollection {
	b.mu.Lock()
	defer b.mu.Unlock()
	fc := geojson.NewFeatureCollection()
	for _, f := range b.features {
		fc.Append(cloneFeature(f))
	}
	return fc
}

func (b *Buffer) ChangeMode(mode Mode, opts Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
	b.opts = opts
}

// Mode 当前模式及参数
func (b *Buffer) Mode() (Mode, Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode, b.opts
}

// Draw 模拟用户在地图上完成一次绘制
func (b *Buffer) Draw(g orb.Geometry, props map[string]interface{}) string {
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	ids := b.Add(f)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// SetGeometry 模拟用户拖动节点修改几何
func (b *Buffer) SetGeometry(id string, g orb.Geometry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.features {
		if f.ID == id {
			f.Geometry = orb.Clone(g)
			return true
		}
	}
	return false
}

// Len 缓冲区要素数
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.features)
}
