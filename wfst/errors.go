package wfst

import "fmt"

// EncodingError 输入要素无法编码为事务请求，不会产生网络请求
type EncodingError struct {
	Action Action
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("wfst: cannot encode %s: %s", e.Action, e.Reason)
}

// ProtocolError 后端响应无法解析
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wfst: malformed response: %s: %v", e.Reason, e.Err)
	}
	return "wfst: malformed response: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// BackendRejected 后端理解了请求但拒绝执行（约束冲突等）
type BackendRejected struct {
	Code    string
	Message string
}

func (e *BackendRejected) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wfst: backend rejected transaction (%s): %s", e.Code, e.Message)
	}
	return "wfst: backend rejected transaction: " + e.Message
}
