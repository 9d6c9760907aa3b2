package mqtt

import (
	"net"
	"strconv"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
)

// Params 网关服务依赖
//
// Upstream 由上层按接口提供。
type Params struct {
	fx.In

	Config   *config.Config
	Upstream Upstream
	Metrics  *metrics.Gateway
	Clock    clock.Clock `optional:"true"`
}

// Result 网关服务导出
type Result struct {
	fx.Out

	Server *Server
	Routes *routing.Table
}

// Module 返回 MQTT 网关 Fx 模块
//
// 生命周期:
//   - OnStart: 监听端口并启动 worker
//   - OnStop: 关闭所有设备连接并等待 worker 退出
func Module() fx.Option {
	return fx.Module("mqtt",
		fx.Provide(ProvideServer),
		fx.Invoke(registerLifecycle),
	)
}

// ServerOptionsFromConfig 从统一配置构建网关参数
func ServerOptionsFromConfig(cfg *config.Config) ServerOptions {
	w := DefaultOptions()
	w.PublishRate = cfg.MQTT.PublishRate
	if cfg.MQTT.PublishBurst > 0 {
		w.PublishBurst = cfg.MQTT.PublishBurst
	}
	if cfg.MQTT.ForwardQueueSize > 0 {
		w.ForwardQueueSize = cfg.MQTT.ForwardQueueSize
	}
	return ServerOptions{
		Addr:    net.JoinHostPort(cfg.MQTT.Host, strconv.Itoa(cfg.MQTT.Port)),
		Workers: cfg.MQTT.Workers,
		Worker:  w,
	}
}

// ProvideServer 提供网关服务与共享路由表
//
// 路由表规模即在线设备数，变化时同步到指标。
func ProvideServer(p Params) Result {
	routes := routing.NewTable()
	routes.OnChange(p.Metrics.SetOnline)
	srv := NewServer(ServerOptionsFromConfig(p.Config), routes, p.Upstream, p.Metrics, p.Clock)
	return Result{Server: srv, Routes: routes}
}

func registerLifecycle(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
