// Package petgateway 是桌宠设备 MQTT 接入网关及其控制面
//
// 仓库包含三个可执行程序：
//
//   - cmd/pet-gateway: 设备接入网关。在单个 TCP 端口上运行多个 worker，
//     每个 worker 独立 Accept 并持有自己的会话表；鉴权、遥测、事件与
//     指令回执回调控制面；内部 HTTP 接口接收指令并按路由表投递到设备。
//   - cmd/pet-core: 控制面。设备注册与鉴权、指令状态机
//     （PENDING → SENT → ACKED/FAILED/TIMEOUT）、HTTP 与 WebSocket 接口。
//   - cmd/device-sim: 设备模拟器。
//
// # 主题约定
//
//	pet/<deviceId>/cmd        下行指令（设备订阅）
//	pet/<deviceId>/cmd/ack    指令回执
//	pet/<deviceId>/telemetry  遥测
//	pet/<deviceId>/event      事件
//
// # 快速开始
//
//	pet-core --in-memory --port 8080
//	pet-gateway --mqtt-port 1883 --internal-port 8081
//	device-sim --device-id pet001 --secret s3cret
//
// 本包只导出版本信息。
package petgateway
