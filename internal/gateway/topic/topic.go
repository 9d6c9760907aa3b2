// Package topic 定义设备 MQTT 主题约定
//
//	pet/<deviceId>/cmd        下行指令（设备订阅）
//	pet/<deviceId>/telemetry  遥测上行
//	pet/<deviceId>/cmd/ack    指令回执上行
//	pet/<deviceId>/event      事件上行
package topic

const prefix = "pet/"

// Kind 上行消息类别
type Kind int

const (
	// Telemetry 遥测
	Telemetry Kind = iota + 1
	// Ack 指令回执
	Ack
	// Event 事件
	Event
)

// String 返回类别名，同时用作控制面回调路径段
func (k Kind) String() string {
	switch k {
	case Telemetry:
		return "telemetry"
	case Ack:
		return "ack"
	case Event:
		return "event"
	default:
		return "unknown"
	}
}

// Command 返回设备的下行指令主题
func Command(deviceID string) string {
	return prefix + deviceID + "/cmd"
}

// CommandAck 返回设备的指令回执主题
func CommandAck(deviceID string) string {
	return prefix + deviceID + "/cmd/ack"
}

// TelemetryOf 返回设备的遥测主题
func TelemetryOf(deviceID string) string {
	return prefix + deviceID + "/telemetry"
}

// EventOf 返回设备的事件主题
func EventOf(deviceID string) string {
	return prefix + deviceID + "/event"
}

// CanSubscribe 设备只能订阅自己的指令主题
func CanSubscribe(deviceID, filter string) bool {
	return filter == Command(deviceID)
}

// Classify 判断设备发布的主题是否允许，并返回其类别
//
// 只接受设备自己的遥测、回执、事件主题，其他主题返回 false。
func Classify(deviceID, name string) (Kind, bool) {
	switch name {
	case TelemetryOf(deviceID):
		return Telemetry, true
	case CommandAck(deviceID):
		return Ack, true
	case EventOf(deviceID):
		return Event, true
	default:
		return 0, false
	}
}
