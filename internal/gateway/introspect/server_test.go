package introspect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/mqtt"
)

type staticWorkers []*mqtt.Worker

func (s staticWorkers) Workers() []*mqtt.Worker { return s }

func newServer(t *testing.T) (*Server, *metrics.Gateway) {
	t.Helper()
	clk := clock.NewMock()
	routes := routing.NewTable()
	m := metrics.NewGateway(clk)

	w0 := mqtt.NewWorker("worker-0", mqtt.DefaultOptions(), routes, nil, m, clk)
	w1 := mqtt.NewWorker("worker-1", mqtt.DefaultOptions(), routes, nil, m, clk)
	w0.Sessions().Put("pet002", nil, "10.0.0.2")
	w1.Sessions().Put("pet001", nil, "10.0.0.1")
	routes.Upsert("pet001", w1)
	routes.Upsert("pet002", w0)
	m.Connect.Inc()

	return New("gw-test", staticWorkers{w0, w1}, routes, m), m
}

func get(t *testing.T, s *Server, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

// TestIntrospect_Report 测试完整诊断报告
func TestIntrospect_Report(t *testing.T) {
	s, _ := newServer(t)

	var rep Report
	require.Equal(t, http.StatusOK, get(t, s, "/debug/introspect", &rep))
	assert.Equal(t, "gw-test", rep.InstanceID)
	assert.Equal(t, 2, rep.Routes)
	require.Len(t, rep.Workers, 2)
	assert.Equal(t, WorkerInfo{ID: "worker-0", Sessions: 1}, rep.Workers[0])
	assert.Equal(t, int64(1), rep.Metrics.Connect)

	t.Log("✅ 诊断报告正常")
}

// TestIntrospect_Sessions 测试会话列表与过滤
func TestIntrospect_Sessions(t *testing.T) {
	s, _ := newServer(t)

	var all []SessionInfo
	require.Equal(t, http.StatusOK, get(t, s, "/debug/introspect/sessions", &all))
	require.Len(t, all, 2)
	assert.Equal(t, "pet001", all[0].DeviceID)
	assert.Equal(t, "worker-1", all[0].Worker)
	assert.Equal(t, "10.0.0.1", all[0].RemoteAddr)

	var one []SessionInfo
	require.Equal(t, http.StatusOK, get(t, s, "/debug/introspect/sessions?deviceId=pet002", &one))
	require.Len(t, one, 1)
	assert.Equal(t, "worker-0", one[0].Worker)

	var none []SessionInfo
	require.Equal(t, http.StatusOK, get(t, s, "/debug/introspect/sessions?deviceId=nope", &none))
	assert.Empty(t, none)
}

// TestIntrospect_HealthAndPprof 测试存活检查与 pprof 路由
func TestIntrospect_HealthAndPprof(t *testing.T) {
	s, _ := newServer(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, get(t, s, "/debug/introspect/health", &health))
	assert.Equal(t, "ok", health["status"])

	assert.Equal(t, http.StatusOK, get(t, s, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, func() int {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/introspect", nil))
		return rec.Code
	}())
}
