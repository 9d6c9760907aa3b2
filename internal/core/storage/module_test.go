package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
)

// TestModule_Lifecycle 测试 fx 模块启动与关闭
func TestModule_Lifecycle(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db")

	var eng engine.Engine
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()

	store := NewKVStore(eng, []byte("t/"))
	require.NoError(t, store.Put([]byte("k"), []byte("v")))

	app.RequireStop()
	_, err := eng.Get([]byte("t/k"))
	assert.ErrorIs(t, err, ErrClosed)

	t.Log("✅ 存储模块生命周期正常")
}

// TestConfigFromUnified 测试统一配置转换
func TestConfigFromUnified(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromUnified(nil))

	cfg := config.NewConfig()
	cfg.Storage.InMemory = true
	c := ConfigFromUnified(cfg)
	require.NoError(t, c.Validate())
	assert.True(t, c.ToEngineConfig().InMemory)

	bad := Config{}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}
