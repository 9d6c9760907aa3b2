package storage

import (
	"time"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
)

// Config Storage 模块配置
type Config struct {
	// Path BadgerDB 数据目录，InMemory 时忽略
	Path string

	// InMemory 纯内存模式
	InMemory bool

	// SyncWrites 是否同步写入
	SyncWrites bool

	// GCInterval 值日志回收间隔
	GCInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Path:       "data/pet-core",
		GCInterval: 10 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建 Storage 配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.Storage.Path != "" {
		c.Path = cfg.Storage.Path
	}
	c.InMemory = cfg.Storage.InMemory
	return c
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrInvalidConfig
	}
	if c.GCInterval > 0 && c.GCInterval < time.Minute {
		c.GCInterval = time.Minute
	}
	return nil
}

// ToEngineConfig 转换为引擎配置
func (c *Config) ToEngineConfig() *engine.Config {
	if c.InMemory {
		return engine.InMemoryConfig()
	}
	ec := engine.DefaultConfig(c.Path)
	ec.SyncWrites = c.SyncWrites
	ec.GCInterval = c.GCInterval
	return ec
}
