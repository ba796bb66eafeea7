package tile_proxy

import (
	"strings"
	"sync"
	"time"

	"github.com/GrainArc/GeoEdit/pgmvt"
)

// CacheItem 缓存项
type CacheItem struct {
	Data      []byte
	ExpiresAt time.Time
}

// TileCache 瓦片缓存，键为 图层/z/x/y
type TileCache struct {
	mu      sync.RWMutex
	items   map[string]*CacheItem
	maxSize int
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewTileCache 创建瓦片缓存
func NewTileCache(maxSize int, ttl time.Duration) *TileCache {
	cache := &TileCache{
		items:   make(map[string]*CacheItem),
		maxSize: maxSize,
		ttl:     ttl,
		done:    make(chan struct{}),
	}

	// 启动清理协程
	go cache.cleanupLoop()

	return cache
}

// TileKey 缓存键
func TileKey(layer string, t pgmvt.Tile) string {
	return layer + "/" + t.String()
}

// Get 获取缓存
func (c *TileCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if time.Now().After(item.ExpiresAt) {
		return nil, false
	}

	return item.Data, true
}

// Set 设置缓存
func (c *TileCache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 如果缓存已满，删除最旧的项
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = &CacheItem{
		Data:      data,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// EvictTiles 删除图层的指定瓦片，返回实际删除数
func (c *TileCache) EvictTiles(layer string, tiles []pgmvt.Tile) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range tiles {
		key := TileKey(layer, t)
		if _, ok := c.items[key]; ok {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// PurgeLayer 删除图层的全部瓦片
func (c *TileCache) PurgeLayer(layer string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := layer + "/"
	n := 0
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// evictOldest 删除最旧的缓存项
func (c *TileCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.ExpiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.ExpiresAt
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

// cleanupLoop 定期清理过期缓存
func (c *TileCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

// cleanup 清理过期缓存
func (c *TileCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}

// Close 停止清理协程
func (c *TileCache) Close() {
	c.once.Do(func() { close(c.done) })
}

// Clear 清空缓存
func (c *TileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*CacheItem)
}

// Size 获取缓存大小
func (c *TileCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
