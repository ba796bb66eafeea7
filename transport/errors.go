package transport

import (
	"errors"
	"fmt"
)

// NetworkError 传输层失败（超时、连接被拒绝等），不会自动重试
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout 是否为超时
func (e *NetworkError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// HTTPError 非 2xx 状态码
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("transport: http status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("transport: http status %d", e.Status)
}
