package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Layer GeoServer REST 图层条目
type Layer struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

// GeoServer REST 管理接口客户端
type GeoServer struct {
	URL        string
	HTTPClient *http.Client
	Auth       *BasicAuth
}

func NewGeoServer(url, username, password string, timeout time.Duration) *GeoServer {
	return &GeoServer{
		URL:        strings.TrimRight(url, "/"),
		HTTPClient: NewHTTPClient(timeout),
		Auth:       &BasicAuth{Username: username, Password: password},
	}
}

// Layers 获取 rest/layers.json。没有图层时 GeoServer 返回 {"layers":""}
func (c *GeoServer) Layers(ctx context.Context) ([]Layer, error) {
	data, err := do(ctx, c.HTTPClient, c.Auth, http.MethodGet, c.URL+"/rest/layers.json", "application/json", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Layers json.RawMessage `json:"layers"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse layers response: %w", err)
	}
	raw := strings.TrimSpace(string(resp.Layers))
	if !strings.HasPrefix(raw, "{") {
		return nil, nil
	}
	var list struct {
		Layer []Layer `json:"layer"`
	}
	if err := json.Unmarshal(resp.Layers, &list); err != nil {
		return nil, fmt.Errorf("failed to parse layer list: %w", err)
	}
	return list.Layer, nil
}
