// Package session 实现 worker 本地的设备会话表
//
// 每个网关 worker 持有一张独立的会话表，key 为设备 ID。
// 会话在鉴权通过后创建，在断开或关闭时销毁，从不跨 worker 共享。
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Session 一个在线设备连接
type Session struct {
	// DeviceID 设备 ID
	DeviceID string

	// Conn 底层连接句柄，由 worker 解释
	Conn any

	// RemoteAddr 客户端网络地址
	RemoteAddr string

	// ConnectedAt 连接建立时间
	ConnectedAt time.Time

	lastActive atomic.Int64
}

// LastActive 返回最近活动时间
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Table 设备会话表
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clock    clock.Clock
}

// NewTable 创建会话表，clk 为 nil 时使用真实时钟
func NewTable(clk clock.Clock) *Table {
	if clk == nil {
		clk = clock.New()
	}
	return &Table{
		sessions: make(map[string]*Session),
		clock:    clk,
	}
}

// Put 为设备创建会话
//
// 同一设备在本 worker 上重复连接时，新会话替换旧会话，旧会话通过 replaced 返回，
// 由调用方负责关闭旧连接。
func (t *Table) Put(deviceID string, conn any, remoteAddr string) (created, replaced *Session) {
	now := t.clock.Now()
	s := &Session{
		DeviceID:    deviceID,
		Conn:        conn,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
	}
	s.lastActive.Store(now.UnixNano())

	t.mu.Lock()
	replaced = t.sessions[deviceID]
	t.sessions[deviceID] = s
	t.mu.Unlock()

	return s, replaced
}

// Get 查询设备会话
func (t *Table) Get(deviceID string) (*Session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[deviceID]
	t.mu.RUnlock()
	return s, ok
}

// Remove 仅当设备当前会话属于 conn 时删除
//
// 被新连接替换的旧连接关闭时不能删除新会话。
func (t *Table) Remove(deviceID string, conn any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[deviceID]
	if !ok || s.Conn != conn {
		return false
	}
	delete(t.sessions, deviceID)
	return true
}

// Touch 刷新设备最近活动时间
func (t *Table) Touch(deviceID string) {
	if s, ok := t.Get(deviceID); ok {
		s.lastActive.Store(t.clock.Now().UnixNano())
	}
}

// Len 返回在线会话数
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Snapshot 返回当前所有会话的副本切片
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
