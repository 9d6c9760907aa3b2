package api

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/control/registry"
	"github.com/deskpet/pet-gateway/internal/core/eventbus"
	"github.com/deskpet/pet-gateway/internal/core/httpserver"
)

// Params 控制面接口依赖
type Params struct {
	fx.In

	Config   *config.Config
	Commands *command.Service
	Registry *registry.Registry
	Bus      *eventbus.Bus[command.Command]
}

// Module 返回控制面接口 Fx 模块
func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(ProvideServer),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideServer 提供控制面接口
func ProvideServer(p Params) *Server {
	return NewServer(p.Commands, p.Registry, p.Bus, Options{Token: p.Config.Internal.Token})
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, s *Server) {
	hs := httpserver.New("control-api", fmt.Sprintf(":%d", cfg.Core.Port), s)
	lc.Append(fx.Hook{
		OnStart: hs.Start,
		OnStop:  hs.Stop,
	})
}
