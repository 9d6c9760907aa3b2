package introspect

import (
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/httpserver"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/mqtt"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config  *config.Config
	Server  *mqtt.Server
	Routes  *routing.Table
	Metrics *metrics.Gateway
}

// Module 返回 introspect fx 模块
//
// 未配置 gateway.introspectAddr 时不监听。
func Module() fx.Option {
	return fx.Module("introspect",
		fx.Provide(ProvideServer),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideServer 提供诊断服务
func ProvideServer(in ModuleInput) *Server {
	return New(in.Config.Gateway.InstanceID, in.Server, in.Routes, in.Metrics)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, s *Server) {
	addr := cfg.Gateway.IntrospectAddr
	if addr == "" {
		return
	}
	hs := httpserver.New("introspect", addr, s)
	lc.Append(fx.Hook{
		OnStart: hs.Start,
		OnStop:  hs.Stop,
	})
}
