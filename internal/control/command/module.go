package command

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/eventbus"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
)

// OptionsFromConfig 从统一配置构建服务参数
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	opts.Timeout = cfg.Command.Timeout()
	opts.ScanInterval = cfg.Command.ScanInterval()
	return opts
}

// Params 指令服务依赖
//
// DeviceDirectory 与 Gateway 由上层按接口提供。
type Params struct {
	fx.In

	Engine  engine.Engine
	Devices DeviceDirectory
	Gateway Gateway
	Config  *config.Config `optional:"true"`
	Clock   clock.Clock    `optional:"true"`
}

// Result 指令服务导出
type Result struct {
	fx.Out

	Service *Service
	Store   *Store
	Bus     *eventbus.Bus[Command]
}

// Module 返回指令服务 Fx 模块
func Module() fx.Option {
	return fx.Module("command",
		fx.Provide(ProvideService),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideService 提供指令服务
func ProvideService(p Params) Result {
	store := NewStore(p.Engine)
	bus := eventbus.New[Command]()
	svc := NewService(store, p.Devices, p.Gateway, bus, OptionsFromConfig(p.Config), p.Clock)
	return Result{Service: svc, Store: store, Bus: bus}
}

func registerLifecycle(lc fx.Lifecycle, svc *Service, bus *eventbus.Bus[Command]) {
	lc.Append(fx.Hook{
		OnStart: svc.Start,
		OnStop: func(ctx context.Context) error {
			err := svc.Stop(ctx)
			bus.Close()
			return err
		},
	})
}
