package internalapi

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/httpserver"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
)

// Params 内部接口依赖
type Params struct {
	fx.In

	Config   *config.Config
	Routes   *routing.Table
	Metrics  *metrics.Gateway
	Gatherer prometheus.Gatherer `optional:"true"`
}

// Module 返回网关内部接口 Fx 模块
func Module() fx.Option {
	return fx.Module("internalapi",
		fx.Provide(ProvideHandler),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideHandler 提供内部接口
func ProvideHandler(p Params) *Handler {
	return NewHandler(p.Routes, p.Metrics, p.Gatherer, Options{
		Token:           p.Config.Internal.Token,
		DispatchTimeout: p.Config.Internal.DispatchTimeout.Duration(),
	})
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, h *Handler) {
	hs := httpserver.New("gateway-internal", fmt.Sprintf(":%d", cfg.Internal.Port), h)
	lc.Append(fx.Hook{
		OnStart: hs.Start,
		OnStop:  hs.Stop,
	})
}
