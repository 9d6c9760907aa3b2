// Package logger 负责安装进程级的 slog handler
//
// 支持通过环境变量配置日志级别：
//   - PETGW_LOG_LEVEL: 格式 组件=级别,组件=级别,默认级别
//     示例: gateway/mqtt=debug,info
//   - PETGW_LOG_FORMAT: text 或 json
//
// 组件名取自 pkg/lib/log 的 component 属性。
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// 环境变量名
const (
	EnvLogLevel  = "PETGW_LOG_LEVEL"
	EnvLogFormat = "PETGW_LOG_FORMAT"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	// DefaultLevel 默认日志级别
	DefaultLevel slog.Level

	// ComponentLevels 各组件的日志级别
	ComponentLevels map[string]slog.Level

	// Format 输出格式
	Format LogFormat
}

// LevelFor 获取指定组件的日志级别
func (c *Config) LevelFor(component string) slog.Level {
	if level, ok := c.ComponentLevels[component]; ok {
		return level
	}
	return c.DefaultLevel
}

// ConfigFromEnv 从环境变量解析配置
func ConfigFromEnv() *Config {
	return ParseConfig(os.Getenv(EnvLogLevel), os.Getenv(EnvLogFormat))
}

// ParseConfig 解析级别字符串与格式字符串
func ParseConfig(levelStr, formatStr string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		ComponentLevels: make(map[string]slog.Level),
		Format:          FormatText,
	}

	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := parseLevel(strings.TrimSpace(levelName)); ok {
				cfg.ComponentLevels[strings.TrimSpace(name)] = level
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}

	if strings.EqualFold(strings.TrimSpace(formatStr), "json") {
		cfg.Format = FormatJSON
	}
	return cfg
}

// parseLevel 解析日志级别名称
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
