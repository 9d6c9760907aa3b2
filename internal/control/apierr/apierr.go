// Package apierr 定义控制面业务错误与错误响应
//
// 每个错误码对应固定的 HTTP 状态与默认消息，响应体统一为
//
//	{"code":"A0440","message":"Command not found","details":{...}}
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code 业务错误码
type Code struct {
	Status  int
	Code    string
	Message string
}

// 错误码表
var (
	InvalidRequest       = Code{http.StatusBadRequest, "A0400", "Invalid request"}
	ValidationFailed     = Code{http.StatusBadRequest, "A0401", "Validation failed"}
	InvalidParam         = Code{http.StatusBadRequest, "A0402", "Invalid parameter"}
	InternalTokenInvalid = Code{http.StatusUnauthorized, "A0320", "Invalid internal token"}
	DeviceNotFound       = Code{http.StatusNotFound, "A0420", "Device not found"}
	DeviceAlreadyExists  = Code{http.StatusConflict, "A0421", "Device already exists"}
	CommandNotFound      = Code{http.StatusNotFound, "A0440", "Command not found"}
	CommandNotRetryable  = Code{http.StatusBadRequest, "A0441", "Command is not retryable"}
	GatewayUnavailable   = Code{http.StatusServiceUnavailable, "C0001", "Gateway unavailable"}
	InternalError        = Code{http.StatusInternalServerError, "B0001", "Internal server error"}
)

// Error 业务错误
type Error struct {
	Code    Code
	Message string
	Details map[string]any

	// cause 底层错误，不对外暴露
	cause error
}

// New 使用默认消息创建业务错误
func New(code Code) *Error {
	return &Error{Code: code, Message: code.Message}
}

// Newf 使用自定义消息创建业务错误
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 创建携带底层错误的业务错误
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: code.Message, cause: cause}
}

// WithDetails 附加错误详情
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Code.Code, e.Message, e.cause)
	}
	return e.Code.Code + " " + e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error { return e.cause }

// Is 按错误码比较，errors.Is(err, apierr.New(apierr.CommandNotFound)) 成立
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code.Code == e.Code.Code
}

// Response 错误响应体
type Response struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// CodeOf 返回 err 对应的错误码，非业务错误视为 InternalError
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Write 将 err 写为错误响应
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = New(InternalError)
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message
	}
	details := e.Details
	if len(details) == 0 {
		details = nil
	}
	WriteJSON(w, e.Code.Status, Response{Code: e.Code.Code, Message: msg, Details: details})
}

// WriteJSON 写 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
