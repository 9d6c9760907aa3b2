// Package mqtt 实现设备接入网关
//
// Server 在一个 TCP 监听上运行固定数量的 Worker（默认等于 CPU 核数），
// 每个 Worker 独立 Accept 并服务自己的一组连接，持有本地会话表。
// 进程内唯一跨 Worker 共享的状态是 routing.Table。
//
// 连接状态：connecting → authenticating → connected → closed。
// 下行指令通过 Worker 实现的 routing.Handle 投递：
// 请求经 inbox 通道交给 Worker 的调度循环，由其查会话表并放入连接的发送队列，
// 每个连接由自己的写协程发送，慢设备不会拖住同一 worker 上的其他连接。
package mqtt

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/core/session"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
	"github.com/deskpet/pet-gateway/internal/gateway/upstream"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("gateway/mqtt")

// Upstream 控制面回调
type Upstream interface {
	// Authenticate 校验设备凭证
	Authenticate(ctx context.Context, deviceID, secret string) upstream.AuthResult

	// Forward 转发上行负载，返回最终失败
	Forward(ctx context.Context, kind topic.Kind, deviceID string, payload []byte) error

	// NotifyOnline 尽力而为的上线通知，不阻塞调用方
	NotifyOnline(deviceID, ip string)

	// NotifyOffline 尽力而为的下线通知，不阻塞调用方
	NotifyOffline(deviceID, ip string)
}

// Options worker 参数
type Options struct {
	// ConnectTimeout 等待 CONNECT 与鉴权的超时
	ConnectTimeout time.Duration

	// WriteTimeout 单个报文写超时
	WriteTimeout time.Duration

	// MaxPacketSize 报文大小上限
	MaxPacketSize int

	// PublishRate 单连接上行速率，0 表示不限制
	PublishRate float64

	// PublishBurst 单连接上行突发上限
	PublishBurst int

	// ForwardQueueSize 单连接待转发队列长度
	ForwardQueueSize int

	// OutboundQueueSize 单连接待发送下行队列长度，满时投递答复 DISPATCH_FAILED
	OutboundQueueSize int
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxPacketSize:     256 * 1024,
		PublishBurst:      20,
		ForwardQueueSize:  64,
		OutboundQueueSize: 32,
	}
}

// deliverRequest 下行投递请求
type deliverRequest struct {
	cmd   routing.Downlink
	reply chan routing.Reply
}

// Worker 一个网关 worker
type Worker struct {
	id       string
	opts     Options
	sessions *session.Table
	routes   *routing.Table
	up       Upstream
	metrics  *metrics.Gateway

	inbox   chan deliverRequest
	stopped chan struct{}

	// ctx 覆盖 worker 发起的所有出站调用，Run 退出时取消
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	live  map[*conn]struct{}
	conns sync.WaitGroup
}

// 确保实现接口
var _ routing.Handle = (*Worker)(nil)

// NewWorker 创建 worker
func NewWorker(id string, opts Options, routes *routing.Table, up Upstream, m *metrics.Gateway, clk clock.Clock) *Worker {
	if opts.ForwardQueueSize <= 0 {
		opts.ForwardQueueSize = DefaultOptions().ForwardQueueSize
	}
	if opts.OutboundQueueSize <= 0 {
		opts.OutboundQueueSize = DefaultOptions().OutboundQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:       id,
		opts:     opts,
		sessions: session.NewTable(clk),
		routes:   routes,
		up:       up,
		metrics:  m,
		inbox:    make(chan deliverRequest),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		live:     make(map[*conn]struct{}),
	}
}

// ID 返回 worker 标识
func (w *Worker) ID() string { return w.id }

// Sessions 返回 worker 本地会话表
func (w *Worker) Sessions() *session.Table { return w.sessions }

// Run 运行下行调度循环，ctx 取消后关闭所有连接并返回
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case req := <-w.inbox:
			req.reply <- w.deliverLocal(req.cmd)
		}
	}
}

// Deliver 实现 routing.Handle
func (w *Worker) Deliver(ctx context.Context, cmd routing.Downlink) (routing.Reply, error) {
	req := deliverRequest{cmd: cmd, reply: make(chan routing.Reply, 1)}

	select {
	case w.inbox <- req:
	case <-ctx.Done():
		return routing.Reply{}, ctx.Err()
	case <-w.stopped:
		return routing.Reply{}, ErrWorkerStopped
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-ctx.Done():
		return routing.Reply{}, ctx.Err()
	}
}

// deliverLocal 在调度循环中把下行指令放入连接发送队列
//
// 只做非阻塞入队：连接已关闭或队列已满时答复 DISPATCH_FAILED。
func (w *Worker) deliverLocal(cmd routing.Downlink) routing.Reply {
	s, ok := w.sessions.Get(cmd.DeviceID)
	if !ok {
		return routing.Reply{OK: false, Reason: routing.ReasonOffline}
	}
	c := s.Conn.(*conn)
	if err := c.enqueue(cmd); err != nil {
		logger.Warn("下行入队失败", "worker", w.id, "deviceId", cmd.DeviceID, "err", err)
		return routing.Reply{OK: false, Reason: routing.ReasonDispatchFailed}
	}
	logger.Debug("下行指令已入队", "worker", w.id, "deviceId", cmd.DeviceID, "topic", cmd.Topic, "qos", cmd.QoS)
	return routing.Reply{OK: true, Reason: routing.ReasonSent}
}

// Serve 接管一个新连接
func (w *Worker) Serve(nc net.Conn) {
	c := newConn(w, nc)

	w.mu.Lock()
	w.live[c] = struct{}{}
	w.mu.Unlock()

	w.conns.Add(1)
	go func() {
		defer w.conns.Done()
		defer func() {
			w.mu.Lock()
			delete(w.live, c)
			w.mu.Unlock()
		}()
		c.serve()
	}()
}

// accept 鉴权通过后登记会话与路由，并回复 CONNACK
//
// 持有写锁完成登记与 CONNACK，保证路由生效后到达的下行 PUBLISH
// 不会先于 CONNACK 写到设备。
func (w *Worker) accept(c *conn, connack func() error) error {
	prev, _ := w.routes.Lookup(c.deviceID)

	c.writeMu.Lock()
	_, replaced := w.sessions.Put(c.deviceID, c, c.remote)
	w.routes.Upsert(c.deviceID, w)
	w.metrics.Connect.Inc()
	w.up.NotifyOnline(c.deviceID, c.remote)
	err := connack()
	c.writeMu.Unlock()

	if replaced != nil {
		if old, ok := replaced.Conn.(*conn); ok && old != c {
			logger.Info("同一设备重复连接，关闭旧连接", "worker", w.id, "deviceId", c.deviceID)
			old.close()
		}
	}
	// 旧连接在其他 worker 上时由该 worker 关闭
	if pw, ok := prev.(*Worker); ok && pw != w {
		pw.evict(c.deviceID)
	}
	logger.Info("设备已连接", "worker", w.id, "deviceId", c.deviceID, "ip", c.remote)
	return err
}

// release 连接关闭后清理会话与路由
//
// 会话已被同 worker 上的新连接替换时不做任何事。
// 路由已指向其他 worker（设备在别处重连）时不发送下线通知。
func (w *Worker) release(c *conn) {
	if !w.sessions.Remove(c.deviceID, c) {
		return
	}
	cleared := w.routes.CompareAndClear(c.deviceID, w)
	w.metrics.Disconnect.Inc()
	logger.Info("设备已断开", "worker", w.id, "deviceId", c.deviceID, "ip", c.remote)

	if !cleared {
		if _, elsewhere := w.routes.Lookup(c.deviceID); elsewhere {
			logger.Info("设备已在其他 worker 重连，跳过下线通知", "worker", w.id, "deviceId", c.deviceID)
			return
		}
	}
	w.up.NotifyOffline(c.deviceID, c.remote)
}

// evict 关闭设备在本 worker 上的连接
func (w *Worker) evict(deviceID string) {
	s, ok := w.sessions.Get(deviceID)
	if !ok {
		return
	}
	logger.Info("设备在其他 worker 重连，关闭旧连接", "worker", w.id, "deviceId", deviceID)
	s.Conn.(*conn).close()
}

// shutdown 关闭所有连接并等待其退出
func (w *Worker) shutdown() {
	w.mu.Lock()
	conns := make([]*conn, 0, len(w.live))
	for c := range w.live {
		conns = append(conns, c)
	}
	w.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	// 取消进行中的鉴权与转发，避免等待控制面超时
	w.cancel()
	w.conns.Wait()
}
