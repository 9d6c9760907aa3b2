// Package command 实现控制面的指令生命周期
//
// 状态机：
//
//	PENDING → SENT → ACKED | FAILED
//	SENT → TIMEOUT（仅由超时扫描触发）
//	TIMEOUT | FAILED → PENDING（仅由显式重试触发，沿用原 reqId）
//
// 每次状态变更都在一个 BadgerDB 读写事务内完成读取、校验与写入，
// 回执处理与超时扫描并发作用于同一指令时由事务冲突重试保证不丢更新。
// 状态变更后以设备 ID 为主题发布到事件总线，供 WebSocket 推送。
package command

import (
	"time"
)

// Status 指令状态
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusAcked   Status = "ACKED"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

// Retryable 是否允许重试
func (s Status) Retryable() bool {
	return s == StatusTimeout || s == StatusFailed
}

// 失败回执码
const (
	CodeSerializeError     = "SERIALIZE_ERROR"
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodeOffline            = "OFFLINE"
	CodeTimeout            = "TIMEOUT"

	// ReasonNoResponse 网关未给出可解析的结果
	ReasonNoResponse = "NO_RESPONSE"
)

// SchemaVersion 指令信封协议版本
const SchemaVersion = 1

// Command 一条指令
type Command struct {
	ReqID      string         `json:"reqId"`
	DeviceID   string         `json:"deviceId"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Status     Status         `json:"status"`
	AckCode    string         `json:"ackCode,omitempty"`
	AckMessage string         `json:"ackMessage,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Envelope 下发给设备的指令信封
type Envelope struct {
	SchemaVersion int            `json:"schemaVersion"`
	Type          string         `json:"type"`
	ReqID         string         `json:"reqId"`
	TS            int64          `json:"ts"`
	Payload       map[string]any `json:"payload"`
}

// Ack 设备回执
type Ack struct {
	SchemaVersion int    `json:"schemaVersion"`
	ReqID         string `json:"reqId"`
	OK            bool   `json:"ok"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	TS            int64  `json:"ts"`
}
