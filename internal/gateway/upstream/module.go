package upstream

import (
	"context"

	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/httpcall"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
)

// Params 回调客户端依赖
type Params struct {
	fx.In

	Config  *config.Config
	Caller  *httpcall.Caller
	Metrics *metrics.Gateway
}

// Module 返回控制面回调 Fx 模块
//
// 停止时等待进行中的在线状态通知，超过停止期限后取消。
func Module() fx.Option {
	return fx.Module("upstream",
		fx.Provide(ProvideClient),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideClient 提供回调客户端
func ProvideClient(p Params) *Client {
	return New(p.Caller, OptionsFromConfig(p.Config), p.Metrics)
}

func registerLifecycle(lc fx.Lifecycle, c *Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.Close(ctx)
			logger.Info("控制面回调客户端已关闭")
			return nil
		},
	})
}
