// Package main 提供设备接入网关 pet-gateway
//
// 网关在 MQTT 端口上接入设备，鉴权与上行消息回调控制面，
// 并在内部 HTTP 端口上接收控制面下发的指令。
//
// 使用方法:
//
//	pet-gateway --config gateway.yaml --mqtt-port 1883 --internal-port 8081
//
// 配置优先级：默认值 < 配置文件 < PETGW_* 环境变量 < 命令行参数。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	petgateway "github.com/deskpet/pet-gateway"
	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/app"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("cmd/pet-gateway")

const name = "pet-gateway"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.String("config", "", "YAML 配置文件路径")
	mqttPort := fs.Int("mqtt-port", 0, "MQTT 监听端口")
	workers := fs.Int("workers", 0, "worker 数量（0 = CPU 核数）")
	internalPort := fs.Int("internal-port", 0, "内部 HTTP 接口端口")
	coreURL := fs.String("core-url", "", "控制面内部接口地址")
	token := fs.String("token", "", "内部调用令牌")
	instanceID := fs.String("instance-id", "", "网关实例标识")
	failOpen := fs.Bool("auth-fail-open", false, "控制面不可用时放行设备连接")
	introspectAddr := fs.String("introspect", "", "本地诊断服务地址（如 127.0.0.1:6060，空 = 关闭）")
	logFile := fs.String("log", "", "日志文件路径（默认输出到 stderr）")
	fxDebug := fs.Bool("fx-debug", false, "输出依赖注入事件")
	showVersion := fs.Bool("version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(petgateway.VersionInfo(name))
		return nil
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	config.ApplyEnv(cfg)

	// 命令行参数只在显式设置时覆盖
	if fs.Changed("mqtt-port") {
		cfg.MQTT.Port = *mqttPort
	}
	if fs.Changed("workers") {
		cfg.MQTT.Workers = *workers
	}
	if fs.Changed("internal-port") {
		cfg.Internal.Port = *internalPort
	}
	if fs.Changed("core-url") {
		cfg.Core.InternalBaseURL = *coreURL
	}
	if fs.Changed("token") {
		cfg.Internal.Token = *token
	}
	if fs.Changed("instance-id") {
		cfg.Gateway.InstanceID = *instanceID
	}
	if fs.Changed("introspect") {
		cfg.Gateway.IntrospectAddr = *introspectAddr
	}
	if fs.Changed("auth-fail-open") {
		cfg.Auth.FailOpen = *failOpen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	opts := []app.BootstrapOption{app.WithLogFile(*logFile)}
	if *fxDebug {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = zl.Sync() }()
		opts = append(opts, app.WithFxLogger(zl))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("启动网关",
		"version", petgateway.Version,
		"instanceId", cfg.Gateway.InstanceID,
		"mqttPort", cfg.MQTT.Port,
		"internalPort", cfg.Internal.Port,
		"workers", cfg.MQTT.Workers,
		"authFailOpen", cfg.Auth.FailOpen)
	return app.Run(ctx, app.NewBootstrap(app.RoleGateway, cfg, opts...))
}
