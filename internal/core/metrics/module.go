package metrics

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
)

// Params 指标模块依赖
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
	Clock  clock.Clock    `optional:"true"`
}

// Result 指标模块导出
//
// Registry 只注册网关计数器，Gatherer 供 /metrics 使用。
type Result struct {
	fx.Out

	Gateway  *Gateway
	Registry *prometheus.Registry
	Gatherer prometheus.Gatherer
	Reporter *Reporter
}

// Module 返回指标 Fx 模块
//
// 生命周期:
//   - OnStart: 启动统计日志循环
//   - OnStop: 停止统计日志循环
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideMetrics),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideMetrics 创建计数器并注册到独立的 Prometheus registry
func ProvideMetrics(p Params) (Result, error) {
	gw := NewGateway(p.Clock)
	reg := prometheus.NewRegistry()
	if err := gw.Register(reg); err != nil {
		return Result{}, err
	}

	var interval time.Duration
	if p.Config != nil {
		interval = time.Duration(p.Config.Stats.LogIntervalSec) * time.Second
	}
	return Result{
		Gateway:  gw,
		Registry: reg,
		Gatherer: reg,
		Reporter: NewReporter(gw, interval, p.Clock),
	}, nil
}

func registerLifecycle(lc fx.Lifecycle, r *Reporter) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			r.Stop()
			return nil
		},
	})
}
