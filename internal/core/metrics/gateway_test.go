package metrics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGateway_Snapshot 测试快照
func TestGateway_Snapshot(t *testing.T) {
	clk := clock.NewMock()
	gw := NewGateway(clk)

	gw.Connect.Inc()
	gw.Connect.Inc()
	gw.Telemetry.Inc()
	gw.CallbackFail.Inc()
	gw.SetOnline(2)
	clk.Add(90 * time.Second)

	s := gw.Snapshot()
	assert.Equal(t, int64(2), s.Connect)
	assert.Equal(t, int64(1), s.Telemetry)
	assert.Equal(t, int64(1), s.CallbackFail)
	assert.Equal(t, int64(2), s.Online)
	assert.Equal(t, int64(90), s.UptimeSeconds)
}

// TestGateway_Register 测试 Prometheus 导出
func TestGateway_Register(t *testing.T) {
	gw := NewGateway(nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, gw.Register(reg))
	assert.Error(t, gw.Register(reg), "重复注册应失败")

	gw.AuthFail.Inc()
	gw.SetOnline(3)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	body := buf.String()
	assert.Contains(t, body, "deskpet_gateway_auth_fail_total 1")
	assert.Contains(t, body, "deskpet_gateway_online 3")
	assert.Contains(t, body, "deskpet_gateway_uptime_seconds")

	t.Log("✅ 指标导出正确")
}

// TestReporter_Tick 测试定时报告
func TestReporter_Tick(t *testing.T) {
	clk := clock.NewMock()
	gw := NewGateway(clk)
	r := NewReporter(gw, time.Minute, clk)

	var mu sync.Mutex
	var got []Snapshot
	r.sink = func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}

	r.Start(context.Background())
	defer r.Stop()

	gw.Ack.Inc()
	clk.Add(time.Minute)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, int64(1), got[0].Ack)
	mu.Unlock()
}

// TestReporter_Disabled 测试关闭报告
func TestReporter_Disabled(t *testing.T) {
	r := NewReporter(NewGateway(nil), 0, nil)
	r.Start(context.Background())
	r.Stop()
}
