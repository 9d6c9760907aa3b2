// Package routing 实现进程内的指令路由表
//
// 路由表记录设备 ID 到持有其在线连接的 worker 句柄的映射，
// 是 worker 之间唯一共享的状态。worker 只用自己的句柄写入，
// 删除时使用 CompareAndClear，避免旧 worker 的断开事件
// 删除设备在新 worker 上重连后写入的路由。
//
// 路由只在单进程内有效，不做跨机器同步。
package routing

import (
	"context"
	"sync"
)

// Downlink 投递给设备的下行指令
type Downlink struct {
	DeviceID string
	Topic    string
	QoS      byte
	Payload  []byte
}

// Reply worker 对下行投递的答复
type Reply struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// 答复原因
const (
	ReasonSent           = "SENT"
	ReasonOffline        = "OFFLINE"
	ReasonDispatchFailed = "DISPATCH_FAILED"
)

// Handle worker 的类型化句柄
type Handle interface {
	// ID 返回 worker 标识，仅用于日志与指标
	ID() string

	// Deliver 将指令交给 worker 发布到设备
	//
	// ctx 超时或 worker 已停止时返回 error；
	// 设备不在该 worker 上时返回 Reply{OK:false, Reason:OFFLINE}。
	Deliver(ctx context.Context, cmd Downlink) (Reply, error)
}

// Table 路由表
type Table struct {
	mu     sync.RWMutex
	routes map[string]Handle

	// onChange 在路由数量变化后调用，用于更新在线数指标
	onChange func(size int)
}

// NewTable 创建路由表
func NewTable() *Table {
	return &Table{routes: make(map[string]Handle)}
}

// OnChange 设置路由数量变化回调
func (t *Table) OnChange(fn func(size int)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Upsert 将设备路由指向 owner
func (t *Table) Upsert(deviceID string, owner Handle) {
	t.mu.Lock()
	t.routes[deviceID] = owner
	size, fn := len(t.routes), t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(size)
	}
}

// Lookup 查询设备当前所属 worker
func (t *Table) Lookup(deviceID string) (Handle, bool) {
	t.mu.RLock()
	h, ok := t.routes[deviceID]
	t.mu.RUnlock()
	return h, ok
}

// CompareAndClear 仅当设备路由仍指向 owner 时删除
func (t *Table) CompareAndClear(deviceID string, owner Handle) bool {
	t.mu.Lock()
	cur, ok := t.routes[deviceID]
	if !ok || cur != owner {
		t.mu.Unlock()
		return false
	}
	delete(t.routes, deviceID)
	size, fn := len(t.routes), t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(size)
	}
	return true
}

// Len 返回路由条目数
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
