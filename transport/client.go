package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// 错误信息中保留的响应体长度
const maxErrorBody = 512

// NewHTTPClient 与瓦片代理相同的连接池配置
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// BasicAuth 可选的基础认证
type BasicAuth struct {
	Username string
	Password string
}

func (a *BasicAuth) apply(req *http.Request) {
	if a != nil && a.Username != "" {
		req.SetBasicAuth(a.Username, a.Password)
	}
}

// do 执行一次请求，恰好一次网络调用，返回 2xx 响应体
func do(ctx context.Context, client *http.Client, auth *BasicAuth, method, url, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: url, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	auth.apply(req)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Str("url", url).Msg("request failed")
		return nil, &NetworkError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: url, Err: err}
	}
	log.Debug().
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: truncateBody(strings.TrimSpace(string(data)))}
	}
	return data, nil
}

// truncateBody 截断到 maxErrorBody 字节以内，不切开多字节字符
func truncateBody(msg string) string {
	if len(msg) <= maxErrorBody {
		return msg
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
