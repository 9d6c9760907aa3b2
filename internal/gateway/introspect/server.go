// Package introspect 提供网关本地诊断 HTTP 服务
//
// 服务只应绑定回环地址，输出 JSON 格式的运行状态，用于调试和排障。
//
// 端点：
//   - GET /debug/introspect           - 完整诊断报告
//   - GET /debug/introspect/sessions  - 在线会话，可按 ?deviceId= 过滤
//   - GET /debug/introspect/health    - 存活检查
//   - GET /debug/pprof/*              - Go pprof 端点
package introspect

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/mqtt"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("gateway/introspect")

// Workers 提供当前 worker 列表，*mqtt.Server 满足
type Workers interface {
	Workers() []*mqtt.Worker
}

// Report 完整诊断报告
type Report struct {
	InstanceID string           `json:"instanceId"`
	Routes     int              `json:"routes"`
	Workers    []WorkerInfo     `json:"workers"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

// WorkerInfo 单个 worker 状态
type WorkerInfo struct {
	ID       string `json:"id"`
	Sessions int    `json:"sessions"`
}

// SessionInfo 单个在线会话
type SessionInfo struct {
	DeviceID    string    `json:"deviceId"`
	Worker      string    `json:"worker"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastActive  time.Time `json:"lastActive"`
}

// Server 诊断服务
type Server struct {
	instanceID string
	workers    Workers
	routes     *routing.Table
	metrics    *metrics.Gateway
	router     *mux.Router
}

// New 创建诊断服务
func New(instanceID string, workers Workers, routes *routing.Table, m *metrics.Gateway) *Server {
	s := &Server{
		instanceID: instanceID,
		workers:    workers,
		routes:     routes,
		metrics:    m,
		router:     mux.NewRouter(),
	}

	s.router.HandleFunc("/debug/introspect", s.handleIntrospect).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/introspect/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/introspect/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	s.router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	return s
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Collect 生成诊断报告
func (s *Server) Collect() Report {
	rep := Report{
		InstanceID: s.instanceID,
		Routes:     s.routes.Len(),
		Metrics:    s.metrics.Snapshot(),
	}
	for _, w := range s.workers.Workers() {
		rep.Workers = append(rep.Workers, WorkerInfo{ID: w.ID(), Sessions: w.Sessions().Len()})
	}
	return rep
}

// Sessions 列出在线会话，deviceID 非空时只返回该设备
func (s *Server) Sessions(deviceID string) []SessionInfo {
	out := []SessionInfo{}
	for _, w := range s.workers.Workers() {
		for _, sess := range w.Sessions().Snapshot() {
			if deviceID != "" && sess.DeviceID != deviceID {
				continue
			}
			out = append(out, SessionInfo{
				DeviceID:    sess.DeviceID,
				Worker:      w.ID(),
				RemoteAddr:  sess.RemoteAddr,
				ConnectedAt: sess.ConnectedAt,
				LastActive:  sess.LastActive(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Server) handleIntrospect(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Collect())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sessions(r.URL.Query().Get("deviceId")))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// writeJSON 写入缩进的 JSON 响应
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		logger.Error("JSON 编码失败", "error", err)
	}
}
