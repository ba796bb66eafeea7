package tile_proxy

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"github.com/GrainArc/GeoEdit/pgmvt"
)

func TestTileCacheEviction(t *testing.T) {
	cache := NewTileCache(10, time.Minute)
	defer cache.Close()

	a := pgmvt.Tile{Z: 12, X: 1, Y: 2}
	b := pgmvt.Tile{Z: 12, X: 1, Y: 3}
	cache.Set(TileKey("barrios", a), []byte("a"))
	cache.Set(TileKey("barrios", b), []byte("b"))
	cache.Set(TileKey("distritos", a), []byte("c"))

	assert.Equal(t, cache.EvictTiles("barrios", []pgmvt.Tile{a, {Z: 1}}), 1)
	_, ok := cache.Get(TileKey("barrios", a))
	assert.Equal(t, ok, false)
	_, ok = cache.Get(TileKey("distritos", a))
	assert.Equal(t, ok, true)

	assert.Equal(t, cache.PurgeLayer("barrios"), 1)
	assert.Equal(t, cache.Size(), 1)
}

func TestTileCacheMaxSize(t *testing.T) {
	cache := NewTileCache(2, time.Minute)
	defer cache.Close()
	cache.Set("a", nil)
	cache.Set("b", nil)
	cache.Set("b", nil)
	assert.Equal(t, cache.Size(), 2)
	cache.Set("c", nil)
	assert.Equal(t, cache.Size(), 2)
}

func TestProxyCachesAndInvalidates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(r.URL.Path))
	}))
	defer upstream.Close()

	cache := NewTileCache(100, time.Minute)
	defer cache.Close()
	svc := NewTileProxyService(upstream.URL+"/{layer}/{z}/{x}/{-y}", cache)
	r := gin.New()
	svc.RegisterRoutes(r.Group(""))

	get := func() string {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tiles/barrios/2/1/0.pbf", nil))
		assert.Equal(t, w.Code, http.StatusOK)
		return w.Body.String()
	}

	assert.Equal(t, get(), "/barrios/2/1/3")
	get()
	assert.Equal(t, atomic.LoadInt32(&calls), int32(1))

	cache.EvictTiles("barrios", []pgmvt.Tile{{Z: 2, X: 1, Y: 0}})
	get()
	assert.Equal(t, atomic.LoadInt32(&calls), int32(2))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tiles/barrios/x/1/0", nil))
	assert.Equal(t, w.Code, http.StatusBadRequest)
}
