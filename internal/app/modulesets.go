package app

import (
	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/internal/control/api"
	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/control/gwclient"
	"github.com/deskpet/pet-gateway/internal/control/registry"
	"github.com/deskpet/pet-gateway/internal/core/httpcall"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/storage"
	"github.com/deskpet/pet-gateway/internal/gateway/internalapi"
	"github.com/deskpet/pet-gateway/internal/gateway/introspect"
	"github.com/deskpet/pet-gateway/internal/gateway/mqtt"
	"github.com/deskpet/pet-gateway/internal/gateway/upstream"
)

// ============================================================================
//                              网关进程（pet-gateway）
// ============================================================================

// GatewayModules 网关进程模块组合
//
// 指标 → 出站调用 → 控制面回调 → MQTT 接入 → 内部接口与本地诊断。
// fx 按依赖顺序启动，按相反顺序停止：内部接口先于 MQTT 接入关闭，
// 回调客户端在所有连接关闭后才等待剩余的在线状态通知。
func GatewayModules() fx.Option {
	return fx.Options(
		metrics.Module(),
		httpcall.Module(),
		upstream.Module(),
		fx.Provide(func(c *upstream.Client) mqtt.Upstream { return c }),
		mqtt.Module(),
		internalapi.Module(),
		introspect.Module(),
	)
}

// ============================================================================
//                              控制面进程（pet-core）
// ============================================================================

// CoreModules 控制面进程模块组合
//
// 存储 → 注册表 → 网关客户端 → 指令服务 → HTTP/WebSocket 接口。
func CoreModules() fx.Option {
	return fx.Options(
		storage.Module(),
		registry.Module(),
		httpcall.Module(),
		gwclient.Module(),
		fx.Provide(
			func(r *registry.Registry) command.DeviceDirectory { return r },
			func(c *gwclient.Client) command.Gateway { return c },
		),
		command.Module(),
		api.Module(),
	)
}

// ModulesFor 返回角色对应的模块组合
func ModulesFor(role Role) (fx.Option, error) {
	switch role {
	case RoleGateway:
		return GatewayModules(), nil
	case RoleCore:
		return CoreModules(), nil
	default:
		return nil, ErrUnknownRole
	}
}
