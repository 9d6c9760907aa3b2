package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// testConfig 两个进程共用的配置，端口均为本机空闲端口
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.MQTT.Host = "127.0.0.1"
	cfg.MQTT.Port = 0
	cfg.MQTT.Workers = 2
	cfg.Internal.Port = freePort(t)
	cfg.Internal.Token = "it-token"
	cfg.Core.Port = freePort(t)
	cfg.Core.InternalBaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Core.Port)
	cfg.Core.GatewayBaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Internal.Port)
	cfg.Storage.InMemory = true
	cfg.Stats.LogIntervalSec = 0
	cfg.Devices = []config.DeviceConfig{{ID: "pet001", Secret: "s3cret"}}
	return cfg
}

func start(t *testing.T, role Role, cfg *config.Config) *Runtime {
	t.Helper()
	b := NewBootstrap(role, cfg,
		WithLogFile(filepath.Join(t.TempDir(), string(role)+".log")),
		WithTimeouts(10*time.Second, 10*time.Second),
	)
	rt, err := b.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, rt.Stop(context.Background()))
	})
	return rt
}

// TestBootstrap_UnknownRole 测试未知角色
func TestBootstrap_UnknownRole(t *testing.T) {
	b := NewBootstrap(Role("relay"), nil, WithLogFile(filepath.Join(t.TempDir(), "x.log")))
	_, err := b.Start(context.Background())
	require.ErrorIs(t, err, ErrUnknownRole)
}

// TestBootstrap_Gateway 测试网关进程启动与停止
func TestBootstrap_Gateway(t *testing.T) {
	cfg := testConfig(t)
	rt := start(t, RoleGateway, cfg)

	require.NotNil(t, rt.MQTT)
	require.NotNil(t, rt.MQTT.Addr())
	assert.Len(t, rt.MQTT.Workers(), 2)
	assert.Equal(t, 0, rt.Routes.Len())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Internal.Port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	t.Log("✅ 网关进程启动与停止正常")
}

// TestBootstrap_Core 测试控制面进程启动并加载预置设备
func TestBootstrap_Core(t *testing.T) {
	cfg := testConfig(t)
	rt := start(t, RoleCore, cfg)

	require.NotNil(t, rt.Commands)
	require.NoError(t, rt.Registry.Authenticate("pet001", "s3cret"))
	assert.Nil(t, rt.MQTT)

	t.Log("✅ 控制面进程启动正常")
}

// TestBootstrap_EndToEnd 控制面下发指令，设备经网关收到并回执
func TestBootstrap_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	core := start(t, RoleCore, cfg)
	gw := start(t, RoleGateway, cfg)

	opts := paho.NewClientOptions().
		AddBroker("tcp://" + gw.MQTT.Addr().String()).
		SetClientID("pet001").
		SetUsername("pet001").
		SetPassword("s3cret").
		SetAutoReconnect(false).
		SetConnectTimeout(3 * time.Second)
	dev := paho.NewClient(opts)
	tok := dev.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { dev.Disconnect(50) })

	received := make(chan command.Envelope, 1)
	tok = dev.Subscribe(topic.Command("pet001"), 1, func(c paho.Client, m paho.Message) {
		var env command.Envelope
		if err := json.Unmarshal(m.Payload(), &env); err != nil {
			return
		}
		ack, _ := json.Marshal(command.Ack{
			SchemaVersion: command.SchemaVersion,
			ReqID:         env.ReqID,
			OK:            true,
			Code:          "DONE",
			Message:       "ok",
			TS:            time.Now().UnixMilli(),
		})
		c.Publish(topic.CommandAck("pet001"), 1, false, ack)
		received <- env
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	// 在线通知异步到达控制面
	require.Eventually(t, func() bool {
		p, err := core.Registry.Presence("pet001")
		return err == nil && p != nil && p.Online
	}, 5*time.Second, 20*time.Millisecond)

	body := bytes.NewBufferString(`{"type":"feed","payload":{"grams":20}}`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/api/devices/pet001/commands", cfg.Core.Port), "application/json", body)
	require.NoError(t, err)
	var created command.Command
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case env := <-received:
		assert.Equal(t, created.ReqID, env.ReqID)
		assert.Equal(t, "feed", env.Type)
		assert.EqualValues(t, 20, env.Payload["grams"])
	case <-time.After(5 * time.Second):
		t.Fatal("设备未收到指令")
	}

	require.Eventually(t, func() bool {
		cmd, err := core.Commands.Find(created.ReqID)
		return err == nil && cmd.Status == command.StatusAcked
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, gw.Routes.Len())

	t.Log("✅ 指令下发与回执闭环正常")
}
