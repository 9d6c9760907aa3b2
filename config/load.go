package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// 环境变量（均使用 PETGW_ 前缀）
const (
	EnvPrefix = "PETGW_"

	EnvMQTTPort        = "MQTT_PORT"
	EnvMQTTWorkers     = "MQTT_WORKERS"
	EnvInternalPort    = "INTERNAL_PORT"
	EnvInternalToken   = "INTERNAL_TOKEN"
	EnvCoreBaseURL     = "CORE_INTERNAL_BASE_URL"
	EnvCorePort        = "CORE_PORT"
	EnvGatewayBaseURL  = "GATEWAY_BASE_URL"
	EnvInstanceID      = "GATEWAY_INSTANCE_ID"
	EnvIntrospectAddr  = "INTROSPECT_ADDR"
	EnvAuthFailOpen    = "AUTH_FAIL_OPEN"
	EnvStoragePath     = "STORAGE_PATH"
	EnvCommandTimeout  = "COMMAND_TIMEOUT_SEC"
	EnvStatsLogSeconds = "STATS_LOG_INTERVAL_SEC"
)

// Load 从 YAML 文件加载配置
//
// 文件中未出现的字段保留默认值。path 为空时直接返回默认配置。
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return cfg, nil
}

// Parse 将 YAML 数据合并到 cfg 上，拒绝未知字段
func Parse(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// ApplyEnv 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func ApplyEnv(cfg *Config) {
	setInt(EnvMQTTPort, &cfg.MQTT.Port)
	setInt(EnvMQTTWorkers, &cfg.MQTT.Workers)
	setInt(EnvInternalPort, &cfg.Internal.Port)
	setInt(EnvCorePort, &cfg.Core.Port)
	setInt(EnvCommandTimeout, &cfg.Command.TimeoutSec)
	setInt(EnvStatsLogSeconds, &cfg.Stats.LogIntervalSec)

	setString(EnvInternalToken, &cfg.Internal.Token)
	setString(EnvCoreBaseURL, &cfg.Core.InternalBaseURL)
	setString(EnvGatewayBaseURL, &cfg.Core.GatewayBaseURL)
	setString(EnvInstanceID, &cfg.Gateway.InstanceID)
	setString(EnvIntrospectAddr, &cfg.Gateway.IntrospectAddr)
	setString(EnvStoragePath, &cfg.Storage.Path)

	if v, ok := lookup(EnvAuthFailOpen); ok {
		cfg.Auth.FailOpen = parseBool(v)
	}
}

func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	return v, v != ""
}

func setString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
