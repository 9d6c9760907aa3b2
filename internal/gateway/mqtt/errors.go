package mqtt

import "errors"

// 网关 worker 错误定义
var (
	// ErrWorkerStopped worker 已停止
	ErrWorkerStopped = errors.New("mqtt: worker stopped")

	// ErrServerStarted 服务已启动
	ErrServerStarted = errors.New("mqtt: server already started")

	// ErrPacketTooLarge 报文超过大小上限
	ErrPacketTooLarge = errors.New("mqtt: packet too large")

	// ErrUnexpectedPacket 不支持或不合时宜的报文类型
	ErrUnexpectedPacket = errors.New("mqtt: unexpected packet")

	// ErrOutboundFull 连接下行发送队列已满
	ErrOutboundFull = errors.New("mqtt: outbound queue full")

	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("mqtt: connection closed")

	// ErrNotConnect 首个报文不是 CONNECT
	ErrNotConnect = errors.New("mqtt: first packet is not CONNECT")
)
