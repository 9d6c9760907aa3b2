package registry

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
)

// Params 注册表依赖
type Params struct {
	fx.In

	Engine engine.Engine
	Config *config.Config
	Clock  clock.Clock `optional:"true"`
}

// Module 返回注册表 Fx 模块
//
// 启动时把配置中的预置设备写入注册表。
func Module() fx.Option {
	return fx.Module("registry",
		fx.Provide(ProvideRegistry),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideRegistry 提供注册表
func ProvideRegistry(p Params) *Registry {
	return New(p.Engine, OptionsFromConfig(p.Config), p.Clock)
}

type lifecycleInput struct {
	fx.In

	LC       fx.Lifecycle
	Registry *Registry
	Config   *config.Config
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := in.Registry.Seed(in.Config.Devices); err != nil {
				return err
			}
			logger.Info("预置设备已加载", "count", len(in.Config.Devices))
			return nil
		},
	})
}
