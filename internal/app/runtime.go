package app

import (
	"context"

	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/control/registry"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/mqtt"
)

// Runtime 表示一个已通过 fx 组装并启动的进程
//
// 只填充当前角色拥有的组件：网关进程填充 MQTT、Routes、Metrics，
// 控制面进程填充 Commands、Registry。
type Runtime struct {
	Role Role

	MQTT    *mqtt.Server
	Routes  *routing.Table
	Metrics *metrics.Gateway

	Commands *command.Service
	Registry *registry.Registry

	stop func(ctx context.Context) error
}

// Stop 停止运行时（触发 fx 生命周期 OnStop）
func (r *Runtime) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	return r.stop(ctx)
}
