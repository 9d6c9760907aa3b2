package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine/badger"
	"github.com/deskpet/pet-gateway/internal/core/storage/kv"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Storage 模块提供的结果
type Result struct {
	fx.Out

	Engine engine.Engine
	Config Config
}

// Module 返回 Storage Fx 模块
//
// 生命周期:
//   - OnStart: 启动引擎后台任务
//   - OnStop: 关闭引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 提供存储引擎和配置
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	eng, err := NewEngine(cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Engine: eng, Config: cfg}, nil
}

func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				logger.Error("存储引擎启动失败", "error", err)
				return err
			}
			logger.Info("存储引擎启动成功")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				logger.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
}

// NewEngine 根据配置创建存储引擎
func NewEngine(cfg Config) (engine.Engine, error) {
	logger.Debug("创建存储引擎", "path", cfg.Path, "inMemory", cfg.InMemory)
	return badger.New(cfg.ToEngineConfig())
}

// NewKVStore 创建带前缀的 KVStore
func NewKVStore(eng engine.Engine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}

// KVStore 是 kv.Store 的类型别名
type KVStore = kv.Store
