package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, 8081, cfg.Internal.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Core.InternalBaseURL)
	assert.Equal(t, "gateway-1", cfg.Gateway.InstanceID)
	assert.Equal(t, 10*time.Second, cfg.Command.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Command.ScanInterval())
	assert.Equal(t, 3*time.Second, cfg.Internal.DispatchTimeout.Duration())
	assert.False(t, cfg.Auth.FailOpen)

	t.Log("✅ NewConfig 测试通过")
}

// TestParse_MergesOverDefaults 测试 YAML 合并
func TestParse_MergesOverDefaults(t *testing.T) {
	cfg := NewConfig()
	data := []byte(`
mqtt:
  port: 2883
internal:
  token: s3cret
auth:
  timeout: 1500ms
  maxRetries: 5
  retryDelay: 0
  failOpen: true
callback:
  retryDelay: 50
command:
  timeoutSec: 30
devices:
  - id: pet001
    secret: abc
`)
	require.NoError(t, Parse(data, cfg))

	assert.Equal(t, 2883, cfg.MQTT.Port)
	assert.Equal(t, 8081, cfg.Internal.Port, "未出现的字段保留默认值")
	assert.Equal(t, "s3cret", cfg.Internal.Token)
	assert.Equal(t, 1500*time.Millisecond, cfg.Auth.Timeout.Duration())
	assert.Equal(t, 5, cfg.Auth.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.Auth.RetryDelay.Duration())
	assert.True(t, cfg.Auth.FailOpen)
	assert.Equal(t, 50*time.Millisecond, cfg.Callback.RetryDelay.Duration())
	assert.Equal(t, 3*time.Second, cfg.Callback.Timeout.Duration())
	assert.Equal(t, 30, cfg.Command.TimeoutSec)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, DeviceConfig{ID: "pet001", Secret: "abc"}, cfg.Devices[0])
	require.NoError(t, cfg.Validate())
}

// TestParse_UnknownField 测试未知字段被拒绝
func TestParse_UnknownField(t *testing.T) {
	err := Parse([]byte("mqtt:\n  prot: 1\n"), NewConfig())
	assert.Error(t, err)
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  instanceId: gw-7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gw-7", cfg.Gateway.InstanceID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "gateway-1", cfg.Gateway.InstanceID)
}

// TestApplyEnv 测试环境变量覆盖
func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPrefix+EnvMQTTPort, "1999")
	t.Setenv(EnvPrefix+EnvInternalToken, "tok")
	t.Setenv(EnvPrefix+EnvAuthFailOpen, "yes")
	t.Setenv(EnvPrefix+EnvInstanceID, "gw-env")
	t.Setenv(EnvPrefix+EnvCorePort, "not-a-number")
	t.Setenv(EnvPrefix+EnvIntrospectAddr, "127.0.0.1:6060")

	cfg := NewConfig()
	ApplyEnv(cfg)

	assert.Equal(t, 1999, cfg.MQTT.Port)
	assert.Equal(t, "tok", cfg.Internal.Token)
	assert.True(t, cfg.Auth.FailOpen)
	assert.Equal(t, "gw-env", cfg.Gateway.InstanceID)
	assert.Equal(t, "127.0.0.1:6060", cfg.Gateway.IntrospectAddr)
	assert.Equal(t, 8080, cfg.Core.Port, "非法数字被忽略")
}

// TestConfig_Validate 测试配置验证
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"端口越界", func(c *Config) { c.MQTT.Port = 70000 }, ErrInvalidPort},
		{"空实例ID", func(c *Config) { c.Gateway.InstanceID = "" }, ErrInvalidConfig},
		{"非法地址", func(c *Config) { c.Core.InternalBaseURL = "localhost" }, ErrInvalidURL},
		{"负重试次数", func(c *Config) { c.Auth.MaxRetries = -1 }, ErrInvalidConfig},
		{"零超时", func(c *Config) { c.Callback.Timeout = 0 }, ErrInvalidConfig},
		{"零扫描间隔", func(c *Config) { c.Command.TimeoutScanMs = 0 }, ErrInvalidConfig},
		{"限速缺少突发", func(c *Config) { c.MQTT.PublishRate = 5; c.MQTT.PublishBurst = 0 }, ErrInvalidConfig},
		{"重复设备", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "a", Secret: "1"}, {ID: "a", Secret: "2"}}
		}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.target)
		})
	}
}

// TestDuration_JSON 测试 JSON 解析
func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"2s"`)))
	assert.Equal(t, 2*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`250`)))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
