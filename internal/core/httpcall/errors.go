package httpcall

import "errors"

// 出站调用错误定义
var (
	// ErrTransport 重试耗尽后仍为传输层失败（连接错误或超时）
	ErrTransport = errors.New("httpcall: transport failure")
)
