package tile_proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GrainArc/GeoEdit/pgmvt"
)

// TileProxyService 矢量瓦片代理，上游一般为 GeoServer GWC 的 TMS 接口。
// 编辑写入后由 pgmvt.DelMVT 从缓存中删除受影响的瓦片
type TileProxyService struct {
	upstream   string
	httpClient *http.Client
	cache      *TileCache
}

// NewTileProxyService upstream 为 URL 模板，支持 {layer} {z} {x} {y} {-y}（TMS 翻转行号）
func NewTileProxyService(upstream string, cache *TileCache) *TileProxyService {
	return &TileProxyService{
		upstream: upstream,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache: cache,
	}
}

// DefaultUpstream GeoServer 矢量瓦片 TMS 模板
func DefaultUpstream(geoserver string) string {
	return strings.TrimRight(geoserver, "/") + "/gwc/service/tms/1.0.0/{layer}@EPSG:900913@pbf/{z}/{x}/{-y}.pbf"
}

// RegisterRoutes 注册路由
func (s *TileProxyService) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tiles/:layer/:z/:x/:y", s.HandleTileRequest)
}

// HandleTileRequest 处理瓦片请求
func (s *TileProxyService) HandleTileRequest(c *gin.Context) {
	layer := c.Param("layer")
	z, err := strconv.ParseInt(c.Param("z"), 10, 64)
	if err != nil || z < 0 || z > 24 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid z"})
		return
	}
	x, err := strconv.ParseInt(c.Param("x"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid x"})
		return
	}
	y, err := strconv.ParseInt(strings.TrimSuffix(c.Param("y"), ".pbf"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid y"})
		return
	}
	t := pgmvt.Tile{Z: z, X: x, Y: y}

	cacheKey := TileKey(layer, t)
	if cachedData, ok := s.cache.Get(cacheKey); ok {
		s.sendTileResponse(c, cachedData)
		return
	}

	tileData, err := s.fetchTile(c.Request.Context(), s.buildTileURL(layer, t))
	if err != nil {
		log.Warn().Err(err).Str("tile", cacheKey).Msg("upstream tile fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.cache.Set(cacheKey, tileData)
	s.sendTileResponse(c, tileData)
}

// buildTileURL 构建上游瓦片URL
func (s *TileProxyService) buildTileURL(layer string, t pgmvt.Tile) string {
	tmsY := (int64(1) << uint(t.Z)) - 1 - t.Y
	r := strings.NewReplacer(
		"{layer}", layer,
		"{z}", strconv.FormatInt(t.Z, 10),
		"{x}", strconv.FormatInt(t.X, 10),
		"{-y}", strconv.FormatInt(tmsY, 10),
		"{y}", strconv.FormatInt(t.Y, 10),
	)
	return r.Replace(s.upstream)
}

// fetchTile 获取单个瓦片
func (s *TileProxyService) fetchTile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.mapbox-vector-tile,application/x-protobuf,*/*;q=0.8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile server returned status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	return data, nil
}

// sendTileResponse 发送瓦片响应，编辑后瓦片会变，不允许浏览器长期缓存
func (s *TileProxyService) sendTileResponse(c *gin.Context, data []byte) {
	contentType := "application/vnd.mapbox-vector-tile"
	c.Header("Cache-Control", "no-cache")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, contentType, data)
}
