// Package metrics 提供网关运行指标
//
// 计数器以原子整数为唯一数据源，同时通过 Prometheus 的
// CounterFunc / GaugeFunc 暴露，统计日志与 /metrics 读取的是同一份数据。
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// namespace 指标名前缀
const namespace = "deskpet_gateway"

// Counter 原子计数器
type Counter struct{ v atomic.Int64 }

// Inc 加一
func (c *Counter) Inc() { c.v.Add(1) }

// Load 读取当前值
func (c *Counter) Load() int64 { return c.v.Load() }

// Gateway 网关指标
type Gateway struct {
	Connect         Counter
	Disconnect      Counter
	Telemetry       Counter
	Ack             Counter
	Event           Counter
	AuthFail        Counter
	AuthRetry       Counter
	CallbackFail    Counter
	CommandSend     Counter
	CommandSendOk   Counter
	CommandSendFail Counter
	RateLimited     Counter

	online  atomic.Int64
	started time.Time
	clock   clock.Clock
}

// NewGateway 创建网关指标
func NewGateway(clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.New()
	}
	return &Gateway{clock: clk, started: clk.Now()}
}

// SetOnline 设置在线设备数
func (g *Gateway) SetOnline(n int) { g.online.Store(int64(n)) }

// Online 返回在线设备数
func (g *Gateway) Online() int64 { return g.online.Load() }

// Uptime 返回运行时长
func (g *Gateway) Uptime() time.Duration { return g.clock.Since(g.started) }

// Register 将指标注册到 reg
func (g *Gateway) Register(reg prometheus.Registerer) error {
	counters := []struct {
		name, help string
		c          *Counter
	}{
		{"connect_total", "设备连接成功次数", &g.Connect},
		{"disconnect_total", "设备断开次数", &g.Disconnect},
		{"telemetry_total", "遥测上行次数", &g.Telemetry},
		{"ack_total", "指令回执上行次数", &g.Ack},
		{"event_total", "事件上行次数", &g.Event},
		{"auth_fail_total", "鉴权失败次数", &g.AuthFail},
		{"auth_retry_total", "鉴权重试次数", &g.AuthRetry},
		{"callback_fail_total", "回调控制面失败次数", &g.CallbackFail},
		{"command_send_total", "下行指令请求次数", &g.CommandSend},
		{"command_send_ok_total", "下行指令投递成功次数", &g.CommandSendOk},
		{"command_send_fail_total", "下行指令投递失败次数", &g.CommandSendFail},
		{"rate_limited_total", "超出上行速率被丢弃的消息数", &g.RateLimited},
	}

	collectors := make([]prometheus.Collector, 0, len(counters)+2)
	for _, item := range counters {
		c := item.c
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      item.name,
			Help:      item.help,
		}, func() float64 { return float64(c.Load()) }))
	}
	collectors = append(collectors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "在线设备数",
		}, func() float64 { return float64(g.Online()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "网关运行时长（秒）",
		}, func() float64 { return g.Uptime().Seconds() }),
	)

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot 指标快照
type Snapshot struct {
	Online          int64 `json:"online"`
	Connect         int64 `json:"connect"`
	Disconnect      int64 `json:"disconnect"`
	Telemetry       int64 `json:"telemetry"`
	Ack             int64 `json:"ack"`
	Event           int64 `json:"event"`
	AuthFail        int64 `json:"authFail"`
	AuthRetry       int64 `json:"authRetry"`
	CallbackFail    int64 `json:"callbackFail"`
	CommandSend     int64 `json:"commandSend"`
	CommandSendOk   int64 `json:"commandSendOk"`
	CommandSendFail int64 `json:"commandSendFail"`
	RateLimited     int64 `json:"rateLimited"`
	UptimeSeconds   int64 `json:"uptimeSeconds"`
}

// Snapshot 读取当前快照
func (g *Gateway) Snapshot() Snapshot {
	return Snapshot{
		Online:          g.Online(),
		Connect:         g.Connect.Load(),
		Disconnect:      g.Disconnect.Load(),
		Telemetry:       g.Telemetry.Load(),
		Ack:             g.Ack.Load(),
		Event:           g.Event.Load(),
		AuthFail:        g.AuthFail.Load(),
		AuthRetry:       g.AuthRetry.Load(),
		CallbackFail:    g.CallbackFail.Load(),
		CommandSend:     g.CommandSend.Load(),
		CommandSendOk:   g.CommandSendOk.Load(),
		CommandSendFail: g.CommandSendFail.Load(),
		RateLimited:     g.RateLimited.Load(),
		UptimeSeconds:   int64(g.Uptime().Seconds()),
	}
}
