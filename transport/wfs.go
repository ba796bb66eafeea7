package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/GrainArc/GeoEdit/wfst"
)

// WFS 向 WFS-T 端点 POST 事务 XML
type WFS struct {
	URL        string
	HTTPClient *http.Client
	Auth       *BasicAuth
}

func NewWFS(url string, timeout time.Duration) *WFS {
	return &WFS{URL: url, HTTPClient: NewHTTPClient(timeout)}
}

// Send 发送一次事务，不重试。
// HTTP 成功后的解析错误（ProtocolError、BackendRejected）原样返回。
func (c *WFS) Send(ctx context.Context, body []byte) (*wfst.Result, error) {
	data, err := do(ctx, c.HTTPClient, c.Auth, http.MethodPost, c.URL, "text/xml", body)
	if err != nil {
		return nil, err
	}
	return wfst.Decode(data)
}
