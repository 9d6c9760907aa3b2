package gwclient

import (
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/httpcall"
)

// Module 返回网关客户端 Fx 模块
func Module() fx.Option {
	return fx.Module("gwclient",
		fx.Provide(ProvideClient),
	)
}

// ProvideClient 提供网关客户端
func ProvideClient(cfg *config.Config, caller *httpcall.Caller) *Client {
	return New(caller, OptionsFromConfig(cfg))
}
