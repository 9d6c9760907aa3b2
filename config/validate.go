package config

import (
	"errors"
	"fmt"
	"net/url"
)

// 配置错误
var (
	// ErrInvalidPort 端口超出范围
	ErrInvalidPort = errors.New("config: invalid port")

	// ErrInvalidURL 地址格式错误
	ErrInvalidURL = errors.New("config: invalid url")

	// ErrInvalidConfig 配置值无效
	ErrInvalidConfig = errors.New("config: invalid config")
)

// Validate 验证整个配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.Gateway.InstanceID == "" {
		return fmt.Errorf("%w: gateway.instanceId is empty", ErrInvalidConfig)
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := validatePort("internal.port", c.Internal.Port); err != nil {
		return err
	}
	if c.Internal.DispatchTimeout <= 0 {
		return fmt.Errorf("%w: internal.dispatchTimeout must be positive", ErrInvalidConfig)
	}
	if err := c.Core.Validate(); err != nil {
		return err
	}
	if err := c.Auth.RetryPolicy.validate("auth"); err != nil {
		return err
	}
	if err := c.Callback.validate("callback"); err != nil {
		return err
	}
	if c.Command.TimeoutSec <= 0 || c.Command.TimeoutScanMs <= 0 {
		return fmt.Errorf("%w: command.timeoutSec and command.timeoutScanMs must be positive", ErrInvalidConfig)
	}
	if c.Stats.LogIntervalSec < 0 {
		return fmt.Errorf("%w: stats.logIntervalSec is negative", ErrInvalidConfig)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is empty", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if d.ID == "" || d.Secret == "" {
			return fmt.Errorf("%w: device entry needs id and secret", ErrInvalidConfig)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate device %q", ErrInvalidConfig, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

// Validate 验证 MQTT 配置
func (c MQTTConfig) Validate() error {
	if err := validatePort("mqtt.port", c.Port); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: mqtt.workers is negative", ErrInvalidConfig)
	}
	if c.PublishRate < 0 || c.PublishBurst < 0 {
		return fmt.Errorf("%w: mqtt publish limits are negative", ErrInvalidConfig)
	}
	if c.PublishRate > 0 && c.PublishBurst == 0 {
		return fmt.Errorf("%w: mqtt.publishBurst must be positive when publishRate is set", ErrInvalidConfig)
	}
	return nil
}

// Validate 验证控制面配置
func (c CoreConfig) Validate() error {
	if err := validatePort("core.port", c.Port); err != nil {
		return err
	}
	if err := validateURL("core.internalBaseUrl", c.InternalBaseURL); err != nil {
		return err
	}
	if err := validateURL("core.gatewayBaseUrl", c.GatewayBaseURL); err != nil {
		return err
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("%w: core.gatewayTimeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func (p RetryPolicy) validate(section string) error {
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: %s.timeout must be positive", ErrInvalidConfig, section)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: %s.maxRetries is negative", ErrInvalidConfig, section)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %s=%d", ErrInvalidPort, name, port)
	}
	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s=%q", ErrInvalidURL, name, raw)
	}
	return nil
}
