package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/pet-gateway/internal/control/apierr"
	"github.com/deskpet/pet-gateway/internal/control/gwclient"
	"github.com/deskpet/pet-gateway/internal/core/eventbus"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine/badger"
)

type fakeDevices map[string]bool

func (d fakeDevices) Exists(id string) (bool, error) { return d[id], nil }

// fakeGateway 按设置的函数应答，记录所有请求
type fakeGateway struct {
	mu    sync.Mutex
	reqs  []gwclient.SendRequest
	reply func(req gwclient.SendRequest) (*routing.Reply, error)
}

func (g *fakeGateway) Send(_ context.Context, req gwclient.SendRequest) (*routing.Reply, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	fn := g.reply
	g.mu.Unlock()
	return fn(req)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reqs)
}

func sent(gwclient.SendRequest) (*routing.Reply, error) {
	return &routing.Reply{OK: true, Reason: routing.ReasonSent}, nil
}

type fixture struct {
	svc   *Service
	gw    *fakeGateway
	bus   *eventbus.Bus[Command]
	clock *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	gw := &fakeGateway{reply: sent}
	bus := eventbus.New[Command]()
	t.Cleanup(bus.Close)

	svc := NewService(NewStore(eng), fakeDevices{"pet001": true, "pet002": true}, gw, bus, DefaultOptions(), clk)
	return &fixture{svc: svc, gw: gw, bus: bus, clock: clk}
}

func (f *fixture) status(t *testing.T, reqID string) *Command {
	t.Helper()
	cmd, err := f.svc.Find(reqID)
	require.NoError(t, err)
	return cmd
}

// TestService_CreateAndAck 测试下发成功后回执
func TestService_CreateAndAck(t *testing.T) {
	f := newFixture(t)
	sub, err := f.bus.Subscribe("pet001")
	require.NoError(t, err)

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", map[string]any{"direction": "forward"})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, cmd.Status)
	assert.NotEmpty(t, cmd.ReqID)

	require.Equal(t, 1, f.gw.calls())
	req := f.gw.reqs[0]
	assert.Equal(t, "pet/pet001/cmd", req.Topic)
	assert.Equal(t, 1, req.QoS)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(req.Payload), &env))
	assert.Equal(t, Envelope{
		SchemaVersion: 1,
		Type:          "move",
		ReqID:         cmd.ReqID,
		TS:            f.clock.Now().Unix(),
		Payload:       map[string]any{"direction": "forward"},
	}, env)

	ack := Ack{SchemaVersion: 1, ReqID: cmd.ReqID, OK: true, Code: "DONE", Message: "moved"}
	require.NoError(t, f.svc.HandleAck(context.Background(), "pet001", ack))
	got := f.status(t, cmd.ReqID)
	assert.Equal(t, StatusAcked, got.Status)
	assert.Equal(t, "DONE", got.AckCode)
	assert.Equal(t, "moved", got.AckMessage)

	// 重复回执没有额外效果
	f.clock.Add(time.Second)
	require.NoError(t, f.svc.HandleAck(context.Background(), "pet001", Ack{ReqID: cmd.ReqID, OK: false, Code: "ERR"}))
	again := f.status(t, cmd.ReqID)
	assert.Equal(t, got, again)

	var seen []Status
	for len(sub.Out()) > 0 {
		seen = append(seen, (<-sub.Out()).Status)
	}
	assert.Equal(t, []Status{StatusPending, StatusSent, StatusAcked}, seen)

	t.Log("✅ 指令下发与回执正常")
}

// TestService_CreateOffline 测试网关报告离线
func TestService_CreateOffline(t *testing.T) {
	f := newFixture(t)
	f.gw.reply = func(gwclient.SendRequest) (*routing.Reply, error) {
		return &routing.Reply{OK: false, Reason: routing.ReasonOffline}, nil
	}

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status)
	assert.Equal(t, CodeOffline, cmd.AckCode)
	assert.Equal(t, "OFFLINE", cmd.AckMessage)
}

// TestService_CreateNoResponse 测试网关 409 无响应体
func TestService_CreateNoResponse(t *testing.T) {
	f := newFixture(t)
	f.gw.reply = func(gwclient.SendRequest) (*routing.Reply, error) { return nil, nil }

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status)
	assert.Equal(t, CodeOffline, cmd.AckCode)
	assert.Equal(t, ReasonNoResponse, cmd.AckMessage)
}

// TestService_CreateGatewayUnavailable 测试网关不可达
func TestService_CreateGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gw.reply = func(gwclient.SendRequest) (*routing.Reply, error) {
		return nil, &gwclient.StatusError{StatusCode: 500}
	}

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	assert.Nil(t, cmd)
	require.Error(t, err)
	assert.Equal(t, apierr.GatewayUnavailable, apierr.CodeOf(err))

	var ae *apierr.Error
	require.True(t, errors.As(err, &ae))
	reqID, _ := ae.Details["reqId"].(string)
	require.NotEmpty(t, reqID)

	stored := f.status(t, reqID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, CodeGatewayUnavailable, stored.AckCode)
	assert.Equal(t, "Gateway unavailable", stored.AckMessage)
}

// TestService_CreateUnknownDevice 测试设备不存在
func TestService_CreateUnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), "pet404", "move", nil)
	assert.Equal(t, apierr.DeviceNotFound, apierr.CodeOf(err))
	assert.Zero(t, f.gw.calls())
}

// TestService_SerializeError 测试信封序列化失败
func TestService_SerializeError(t *testing.T) {
	f := newFixture(t)
	f.svc.marshal = func(any) ([]byte, error) { return nil, errors.New("boom") }

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cmd.Status)
	assert.Equal(t, CodeSerializeError, cmd.AckCode)
	assert.Equal(t, "Failed to serialize command payload", cmd.AckMessage)
	assert.Zero(t, f.gw.calls())
}

// TestService_TimeoutAndRetry 测试超时扫描与重试
func TestService_TimeoutAndRetry(t *testing.T) {
	f := newFixture(t)

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)
	require.Equal(t, StatusSent, cmd.Status)

	f.clock.Add(5 * time.Second)
	n, err := f.svc.Sweep()
	require.NoError(t, err)
	assert.Zero(t, n, "未到超时时间")

	f.clock.Add(6 * time.Second)
	n, err = f.svc.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	timedOut := f.status(t, cmd.ReqID)
	assert.Equal(t, StatusTimeout, timedOut.Status)
	assert.Equal(t, CodeTimeout, timedOut.AckCode)
	assert.Equal(t, "No ack within timeout", timedOut.AckMessage)

	// 超时后的回执被忽略
	require.NoError(t, f.svc.HandleAck(context.Background(), "pet001", Ack{ReqID: cmd.ReqID, OK: true, Code: "DONE"}))
	assert.Equal(t, StatusTimeout, f.status(t, cmd.ReqID).Status)

	// 再次扫描不会重复处理
	n, err = f.svc.Sweep()
	require.NoError(t, err)
	assert.Zero(t, n)

	retried, err := f.svc.Retry(context.Background(), "pet001", cmd.ReqID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, retried.Status)
	assert.Equal(t, cmd.ReqID, retried.ReqID)
	assert.Empty(t, retried.AckCode)
	assert.Equal(t, 2, f.gw.calls())

	t.Log("✅ 超时与重试正常")
}

// TestService_RetryRejected 测试不允许的重试
func TestService_RetryRejected(t *testing.T) {
	f := newFixture(t)
	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)

	_, err = f.svc.Retry(context.Background(), "pet001", "missing")
	assert.Equal(t, apierr.CommandNotFound, apierr.CodeOf(err))

	_, err = f.svc.Retry(context.Background(), "pet002", cmd.ReqID)
	assert.Equal(t, apierr.InvalidRequest, apierr.CodeOf(err))

	_, err = f.svc.Retry(context.Background(), "pet001", cmd.ReqID)
	assert.Equal(t, apierr.CommandNotRetryable, apierr.CodeOf(err))

	assert.Equal(t, 1, f.gw.calls())
}

// TestService_AckDuringDispatch 测试网关确认前到达的回执
func TestService_AckDuringDispatch(t *testing.T) {
	f := newFixture(t)
	f.gw.reply = func(req gwclient.SendRequest) (*routing.Reply, error) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(req.Payload), &env))
		err := f.svc.HandleAck(context.Background(), req.DeviceID, Ack{ReqID: env.ReqID, OK: true, Code: "DONE"})
		require.NoError(t, err)
		return sent(req)
	}

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAcked, cmd.Status)
	assert.Equal(t, "DONE", cmd.AckCode)
}

// TestService_AckIgnored 测试未知或不匹配的回执
func TestService_AckIgnored(t *testing.T) {
	f := newFixture(t)
	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)

	assert.NoError(t, f.svc.HandleAck(context.Background(), "pet001", Ack{ReqID: "unknown", OK: true}))
	assert.NoError(t, f.svc.HandleAck(context.Background(), "pet002", Ack{ReqID: cmd.ReqID, OK: true}))
	assert.Equal(t, StatusSent, f.status(t, cmd.ReqID).Status)

	err = f.svc.HandleAck(context.Background(), "pet001", Ack{})
	assert.Equal(t, apierr.InvalidParam, apierr.CodeOf(err))
}

// TestService_FailedAck 测试失败回执
func TestService_FailedAck(t *testing.T) {
	f := newFixture(t)
	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleAck(context.Background(), "pet001", Ack{ReqID: cmd.ReqID, OK: false, Code: "BLOCKED", Message: "obstacle"}))
	got := f.status(t, cmd.ReqID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "BLOCKED", got.AckCode)

	// 失败后可以重试
	retried, err := f.svc.Retry(context.Background(), "pet001", cmd.ReqID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, retried.Status)
}

// TestService_SweepLoop 测试周期扫描
func TestService_SweepLoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop(context.Background()) })

	cmd, err := f.svc.Create(context.Background(), "pet001", "move", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.clock.Add(2 * time.Second)
		c, err := f.svc.Find(cmd.ReqID)
		return err == nil && c.Status == StatusTimeout
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.Stop(context.Background()))
	require.NoError(t, f.svc.Stop(context.Background()))

	t.Log("✅ 周期扫描正常")
}
