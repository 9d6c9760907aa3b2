// Package app 提供进程编排层
//
// app 包负责：
// - 按角色组装 fx 模块
// - 注入配置与时钟
// - 管理启动与停止
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/control/registry"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/mqtt"
	"github.com/deskpet/pet-gateway/internal/util/logger"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var appLog = log.Logger("app")

// Role 进程角色
type Role string

const (
	// RoleGateway 设备接入网关
	RoleGateway Role = "gateway"
	// RoleCore 控制面
	RoleCore Role = "core"
)

// 编排错误
var (
	// ErrUnknownRole 未知角色
	ErrUnknownRole = errors.New("app: unknown role")

	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New("app: already started")
)

const defaultTimeout = 30 * time.Second

// Bootstrap 应用引导程序
type Bootstrap struct {
	role   Role
	config *config.Config
	clock  clock.Clock

	fxLogger     *zap.Logger
	logFile      string
	logOut       *os.File
	startTimeout time.Duration
	stopTimeout  time.Duration
	extra        []fx.Option

	fxApp *fx.App
	rt    *Runtime
}

// NewBootstrap 创建引导程序
func NewBootstrap(role Role, cfg *config.Config, opts ...BootstrapOption) *Bootstrap {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	b := &Bootstrap{
		role:         role,
		config:       cfg,
		clock:        clock.New(),
		fxLogger:     zap.NewNop(),
		startTimeout: defaultTimeout,
		stopTimeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start 组装并启动应用
//
// 任一模块启动失败时已启动的模块会被回滚停止。
func (b *Bootstrap) Start(ctx context.Context) (*Runtime, error) {
	if b.fxApp != nil {
		return nil, ErrAlreadyStarted
	}
	if err := b.setupLogging(); err != nil {
		return nil, fmt.Errorf("设置日志失败: %w", err)
	}

	modules, err := b.setupModules()
	if err != nil {
		b.closeLog()
		return nil, err
	}

	rt := &Runtime{Role: b.role, stop: b.Stop}
	app := fx.New(
		fx.Options(modules...),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: b.fxLogger}
		}),
		b.populate(rt),
	)
	if err := app.Err(); err != nil {
		b.closeLog()
		return nil, fmt.Errorf("组装模块失败: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, b.startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		b.closeLog()
		return nil, fmt.Errorf("启动应用失败: %w", err)
	}

	b.fxApp, b.rt = app, rt
	appLog.Info("应用已启动", "role", string(b.role))
	return rt, nil
}

// Stop 停止应用
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.fxApp == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, b.stopTimeout)
	defer cancel()

	err := b.fxApp.Stop(stopCtx)
	b.fxApp = nil
	appLog.Info("应用已停止", "role", string(b.role))
	b.closeLog()
	return err
}

// setupModules 组装所有 fx 模块
func (b *Bootstrap) setupModules() ([]fx.Option, error) {
	roleModules, err := ModulesFor(b.role)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, b.role)
	}
	clk := b.clock
	modules := []fx.Option{
		fx.Supply(b.config),
		fx.Provide(func() clock.Clock { return clk }),
		roleModules,
	}
	return append(modules, b.extra...), nil
}

// populate 取出当前角色的组件填充 Runtime
func (b *Bootstrap) populate(rt *Runtime) fx.Option {
	switch b.role {
	case RoleGateway:
		return fx.Invoke(func(s *mqtt.Server, routes *routing.Table, m *metrics.Gateway) {
			rt.MQTT, rt.Routes, rt.Metrics = s, routes, m
		})
	case RoleCore:
		return fx.Invoke(func(svc *command.Service, reg *registry.Registry) {
			rt.Commands, rt.Registry = svc, reg
		})
	default:
		return fx.Options()
	}
}

// setupLogging 配置日志输出
//
// 级别与格式来自环境变量；指定了日志文件时追加写入文件。
func (b *Bootstrap) setupLogging() error {
	if b.logFile == "" {
		logger.Setup(os.Stderr)
		return nil
	}

	file, err := os.OpenFile(b.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	b.logOut = file
	logger.Setup(file)
	appLog.Info("日志文件初始化成功", "path", b.logFile)
	return nil
}

func (b *Bootstrap) closeLog() {
	if b.logOut == nil {
		return
	}
	logger.Setup(os.Stderr)
	_ = b.logOut.Close()
	b.logOut = nil
}
