package engine

import (
	"os"
	"time"
)

// Config 存储引擎配置
type Config struct {
	// Path 数据目录，InMemory 时忽略
	Path string

	// InMemory 纯内存模式，进程退出后数据丢失
	InMemory bool

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool

	// GCInterval 值日志回收间隔，0 表示关闭
	GCInterval time.Duration

	// GCDiscardRatio 值日志回收阈值
	GCDiscardRatio float64

	// MaxConflictRetries 读改写事务冲突时的最大重试次数
	MaxConflictRetries int
}

// DefaultConfig 返回默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:               path,
		GCInterval:         10 * time.Minute,
		GCDiscardRatio:     0.5,
		MaxConflictRetries: 8,
	}
}

// InMemoryConfig 返回内存模式配置
func InMemoryConfig() *Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.GCInterval = 0
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrInvalidConfig
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		c.GCDiscardRatio = 0.5
	}
	if c.MaxConflictRetries <= 0 {
		c.MaxConflictRetries = 1
	}
	return nil
}

// EnsureDir 确保数据目录存在
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	return os.MkdirAll(c.Path, 0o755)
}
