// Package main 提供控制面 pet-core
//
// 控制面负责设备注册与鉴权、指令状态机，以及对外的 HTTP/WebSocket 接口。
//
// 使用方法:
//
//	pet-core --config core.yaml --port 8080 --gateway-url http://localhost:8081
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

var logger = log.Logger("cmd/pet-core")

const name = "pet-core"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.String("config", "", "YAML 配置文件路径")
	port := fs.Int("port", 0, "HTTP 监听端口")
	gatewayURL := fs.String("gateway-url", "", "网关内部接口地址")
	token := fs.String("token", "", "内部调用令牌")
	dataDir := fs.String("data-dir", "", "BadgerDB 数据目录")
	inMemory := fs.Bool("in-memory", false, "使用内存存储（数据不落盘）")
	timeoutSec := fs.Int("command-timeout", 0, "指令等待回执的秒数")
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

	if fs.Changed("port") {
		cfg.Core.Port = *port
	}
	if fs.Changed("gateway-url") {
		cfg.Core.GatewayBaseURL = *gatewayURL
	}
	if fs.Changed("token") {
		cfg.Internal.Token = *token
	}
	if fs.Changed("data-dir") {
		cfg.Storage.Path = *dataDir
	}
	if fs.Changed("in-memory") {
		cfg.Storage.InMemory = *inMemory
	}
	if fs.Changed("command-timeout") {
		cfg.Command.TimeoutSec = *timeoutSec
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

	logger.Info("启动控制面",
		"version", petgateway.Version,
		"port", cfg.Core.Port,
		"gateway", cfg.Core.GatewayBaseURL,
		"storage", cfg.Storage.Path,
		"inMemory", cfg.Storage.InMemory,
		"devices", len(cfg.Devices))
	return app.Run(ctx, app.NewBootstrap(app.RoleCore, cfg, opts...))
}
