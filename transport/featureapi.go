package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/GrainArc/GeoEdit/wfst"
)

// FeatureAPI REST 要素服务客户端，与 WFS-T 并行的另一条持久化路径
type FeatureAPI struct {
	BaseURL    string
	HTTPClient *http.Client
	Auth       *BasicAuth
}

func NewFeatureAPI(baseURL string, timeout time.Duration) *FeatureAPI {
	return &FeatureAPI{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: NewHTTPClient(timeout)}
}

func (c *FeatureAPI) featureURL(id string) string {
	return c.BaseURL + "/features/" + url.PathEscape(id)
}

// call 执行一次请求。4xx 且响应体为 {"error": ...} 时视为后端拒绝；404 仍按 HTTPError 返回，表示记录不存在
func (c *FeatureAPI) call(ctx context.Context, method, url, contentType string, body []byte) ([]byte, error) {
	data, err := do(ctx, c.HTTPClient, c.Auth, method, url, contentType, body)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status >= 400 && httpErr.Status < 500 && httpErr.Status != http.StatusNotFound {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(httpErr.Body), &payload) == nil && payload.Error != "" {
			return nil, &wfst.BackendRejected{Code: strconv.Itoa(httpErr.Status), Message: payload.Error}
		}
	}
	return data, err
}

func malformed(reason string, err error) error {
	return &wfst.ProtocolError{Reason: reason, Err: err}
}

// decodeCollection 2xx 响应体必须是 FeatureCollection
func decodeCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, malformed("invalid feature collection", err)
	}
	return fc, nil
}

// decodeFeature 接受 Feature 或 FeatureCollection（取第一个要素）
func decodeFeature(data []byte) (*geojson.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, malformed("invalid feature response", err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := decodeCollection(data)
		if err != nil {
			return nil, err
		}
		if len(fc.Features) == 0 {
			return nil, malformed("feature collection is empty", nil)
		}
		return fc.Features[0], nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, malformed("invalid feature", err)
		}
		return f, nil
	}
	return nil, malformed(fmt.Sprintf("unexpected geojson type %q", head.Type), nil)
}

// GetFeatureByID 按记录 id 获取完整要素
func (c *FeatureAPI) GetFeatureByID(ctx context.Context, id string) (*geojson.Feature, error) {
	data, err := c.call(ctx, http.MethodGet, c.featureURL(id), "", nil)
	if err != nil {
		return nil, err
	}
	return decodeFeature(data)
}

// GetFeatureByKey 按自然键获取要素，没有匹配时返回 404 HTTPError
func (c *FeatureAPI) GetFeatureByKey(ctx context.Context, key string) (*geojson.Feature, error) {
	data, err := c.call(ctx, http.MethodGet, c.BaseURL+"/features?key="+url.QueryEscape(key), "", nil)
	if err != nil {
		return nil, err
	}
	fc, err := decodeCollection(data)
	if err != nil {
		return nil, err
	}
	if len(fc.Features) == 0 {
		return nil, &HTTPError{Status: http.StatusNotFound, Body: "no feature with key " + key}
	}
	return fc.Features[0], nil
}

// ListFeatures 获取全部要素，用于渲染缓存失效后的重新拉取
func (c *FeatureAPI) ListFeatures(ctx context.Context) (*geojson.FeatureCollection, error) {
	data, err := c.call(ctx, http.MethodGet, c.BaseURL+"/features", "", nil)
	if err != nil {
		return nil, err
	}
	return decodeCollection(data)
}

// CreateFeatureCollection 批量新增，返回带后端 id 的要素
func (c *FeatureAPI) CreateFeatureCollection(ctx context.Context, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	body, err := json.Marshal(fc)
	if err != nil {
		return nil, err
	}
	data, err := c.call(ctx, http.MethodPost, c.BaseURL+"/features", "application/json", body)
	if err != nil {
		return nil, err
	}
	return decodeCollection(data)
}

// UpdateFeature 按记录 id 更新几何与属性
func (c *FeatureAPI) UpdateFeature(ctx context.Context, id string, f *geojson.Feature) (*geojson.Feature, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	data, err := c.call(ctx, http.MethodPut, c.featureURL(id), "application/json", body)
	if err != nil {
		return nil, err
	}
	return decodeFeature(data)
}

// DeleteFeature 按记录 id 删除
func (c *FeatureAPI) DeleteFeature(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, c.featureURL(id), "", nil)
	return err
}
