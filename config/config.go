// Package config 提供 pet-gateway 的统一配置
//
// 一个 Config 同时服务网关进程（pet-gateway）与控制面进程（pet-core），
// 各自只读取与自己相关的子配置。配置来源优先级：
//
//	默认值 < YAML 配置文件 < PETGW_* 环境变量 < 命令行参数
//
// 使用示例：
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    return err
//	}
//	config.ApplyEnv(cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"runtime"
	"time"
)

// Config 是完整的配置结构
type Config struct {
	// Gateway 网关实例配置
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`

	// MQTT 设备接入配置
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`

	// Internal 网关内部 HTTP 接口配置
	Internal InternalConfig `yaml:"internal" json:"internal"`

	// Core 控制面配置
	Core CoreConfig `yaml:"core" json:"core"`

	// Auth 设备鉴权回调配置
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Callback 上行转发与在线状态回调配置
	Callback RetryPolicy `yaml:"callback" json:"callback"`

	// Command 指令超时配置
	Command CommandConfig `yaml:"command" json:"command"`

	// Stats 统计日志配置
	Stats StatsConfig `yaml:"stats" json:"stats"`

	// Storage 控制面存储配置
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Registry 设备注册表缓存配置
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Devices 预置设备列表（设备 ID 与密钥）
	Devices []DeviceConfig `yaml:"devices" json:"devices"`
}

// GatewayConfig 网关实例配置
type GatewayConfig struct {
	// InstanceID 网关实例标识，随在线通知上报
	InstanceID string `yaml:"instanceId" json:"instanceId"`

	// IntrospectAddr 本地诊断服务地址，如 127.0.0.1:6060，空表示关闭
	IntrospectAddr string `yaml:"introspectAddr" json:"introspectAddr"`
}

// MQTTConfig 设备接入配置
type MQTTConfig struct {
	// Host 监听地址，空表示所有网卡
	Host string `yaml:"host" json:"host"`

	// Port 监听端口
	Port int `yaml:"port" json:"port"`

	// Workers worker 数量，0 表示 CPU 核数
	Workers int `yaml:"workers" json:"workers"`

	// PublishRate 单连接上行消息速率（条/秒），0 表示不限制
	PublishRate float64 `yaml:"publishRate" json:"publishRate"`

	// PublishBurst 单连接上行突发上限
	PublishBurst int `yaml:"publishBurst" json:"publishBurst"`

	// ForwardQueueSize 单连接待转发队列长度
	ForwardQueueSize int `yaml:"forwardQueueSize" json:"forwardQueueSize"`
}

// InternalConfig 网关内部 HTTP 接口配置
type InternalConfig struct {
	// Port 监听端口
	Port int `yaml:"port" json:"port"`

	// Token 内部调用令牌，为空时不校验
	Token string `yaml:"token" json:"token"`

	// DispatchTimeout 投递到 worker 的超时
	DispatchTimeout Duration `yaml:"dispatchTimeout" json:"dispatchTimeout"`
}

// CoreConfig 控制面配置
type CoreConfig struct {
	// InternalBaseURL 网关回调控制面的基础地址
	InternalBaseURL string `yaml:"internalBaseUrl" json:"internalBaseUrl"`

	// Port 控制面 HTTP 监听端口
	Port int `yaml:"port" json:"port"`

	// GatewayBaseURL 控制面调用网关内部接口的基础地址
	GatewayBaseURL string `yaml:"gatewayBaseUrl" json:"gatewayBaseUrl"`

	// GatewayTimeout 控制面调用网关的超时
	GatewayTimeout Duration `yaml:"gatewayTimeout" json:"gatewayTimeout"`
}

// RetryPolicy 出站 HTTP 调用的超时与重试策略
type RetryPolicy struct {
	// Timeout 单次请求超时
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// MaxRetries 最大重试次数（不含首次）
	MaxRetries int `yaml:"maxRetries" json:"maxRetries"`

	// RetryDelay 重试间隔，0 表示立即重试
	RetryDelay Duration `yaml:"retryDelay" json:"retryDelay"`
}

// AuthConfig 设备鉴权回调配置
type AuthConfig struct {
	RetryPolicy `yaml:",inline"`

	// FailOpen 控制面不可用（传输错误或 5xx）时是否放行
	FailOpen bool `yaml:"failOpen" json:"failOpen"`
}

// CommandConfig 指令超时配置
type CommandConfig struct {
	// TimeoutSec SENT 状态等待回执的秒数
	TimeoutSec int `yaml:"timeoutSec" json:"timeoutSec"`

	// TimeoutScanMs 超时扫描间隔（毫秒）
	TimeoutScanMs int `yaml:"timeoutScanMs" json:"timeoutScanMs"`
}

// Timeout 返回指令超时时长
func (c CommandConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ScanInterval 返回超时扫描间隔
func (c CommandConfig) ScanInterval() time.Duration {
	return time.Duration(c.TimeoutScanMs) * time.Millisecond
}

// StatsConfig 统计日志配置
type StatsConfig struct {
	// LogIntervalSec 统计日志间隔（秒），0 表示关闭
	LogIntervalSec int `yaml:"logIntervalSec" json:"logIntervalSec"`
}

// StorageConfig 控制面存储配置
type StorageConfig struct {
	// Path BadgerDB 数据目录
	Path string `yaml:"path" json:"path"`

	// InMemory 使用内存模式（测试与演示）
	InMemory bool `yaml:"inMemory" json:"inMemory"`
}

// RegistryConfig 设备注册表缓存配置
type RegistryConfig struct {
	// CacheSize 设备存在性缓存容量
	CacheSize int `yaml:"cacheSize" json:"cacheSize"`

	// CacheTTL 缓存有效期
	CacheTTL Duration `yaml:"cacheTtl" json:"cacheTtl"`
}

// DeviceConfig 预置设备
type DeviceConfig struct {
	ID     string `yaml:"id" json:"id"`
	Secret string `yaml:"secret" json:"secret"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Gateway:  GatewayConfig{InstanceID: "gateway-1"},
		MQTT:     DefaultMQTTConfig(),
		Internal: DefaultInternalConfig(),
		Core:     DefaultCoreConfig(),
		Auth:     AuthConfig{RetryPolicy: DefaultRetryPolicy()},
		Callback: DefaultRetryPolicy(),
		Command:  DefaultCommandConfig(),
		Stats:    StatsConfig{LogIntervalSec: 60},
		Storage:  StorageConfig{Path: "data/pet-core"},
		Registry: RegistryConfig{CacheSize: 1024, CacheTTL: Duration(30 * time.Second)},
	}
}

// DefaultMQTTConfig 返回默认 MQTT 配置
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Port:             1883,
		Workers:          runtime.NumCPU(),
		PublishBurst:     20,
		ForwardQueueSize: 64,
	}
}

// DefaultInternalConfig 返回默认内部接口配置
func DefaultInternalConfig() InternalConfig {
	return InternalConfig{
		Port:            8081,
		DispatchTimeout: Duration(3000 * time.Millisecond),
	}
}

// DefaultCoreConfig 返回默认控制面配置
func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		InternalBaseURL: "http://localhost:8080",
		Port:            8080,
		GatewayBaseURL:  "http://localhost:8081",
		GatewayTimeout:  Duration(3 * time.Second),
	}
}

// DefaultRetryPolicy 返回默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:    Duration(3 * time.Second),
		MaxRetries: 2,
		RetryDelay: Duration(200 * time.Millisecond),
	}
}

// DefaultCommandConfig 返回默认指令配置
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		TimeoutSec:    10,
		TimeoutScanMs: 2000,
	}
}
