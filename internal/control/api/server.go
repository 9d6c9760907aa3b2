// Package api 实现控制面 HTTP 接口
//
//	/api/devices/{deviceId}/...          指令创建、查询、重试与设备状态
//	/internal/...                        网关回调（鉴权、上行、回执、在线状态）
//	/ws/devices/{deviceId}/commands      指令状态推送
//	/healthz                             存活检查
//
// /internal 下的接口在配置了内部令牌时要求请求头 X-Internal-Token 匹配。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/deskpet/pet-gateway/internal/control/apierr"
	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/control/registry"
	"github.com/deskpet/pet-gateway/internal/core/eventbus"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("control/api")

// maxBodySize 请求体上限
const maxBodySize = 1 << 20

// Commands 指令服务
type Commands interface {
	Create(ctx context.Context, deviceID, typ string, payload map[string]any) (*command.Command, error)
	Retry(ctx context.Context, deviceID, reqID string) (*command.Command, error)
	Find(reqID string) (*command.Command, error)
	HandleAck(ctx context.Context, deviceID string, ack command.Ack) error
}

// Devices 设备注册表
type Devices interface {
	Find(deviceID string) (*registry.Device, error)
	Authenticate(deviceID, secret string) error
	MarkOnline(deviceID, gatewayInstanceID, ip string) error
	MarkOffline(deviceID, gatewayInstanceID, ip string) error
	Presence(deviceID string) (*registry.Presence, error)
	UpdateTelemetry(deviceID string, data map[string]any) error
	LatestTelemetry(deviceID string) (*registry.Telemetry, error)
	RecordEvent(ev registry.Event) error
	RecentEvents(deviceID string, limit int) ([]registry.Event, error)
}

// Options 接口参数
type Options struct {
	// Token 内部调用令牌，为空时不校验
	Token string
}

// Server 控制面 HTTP 接口
type Server struct {
	commands Commands
	devices  Devices
	bus      *eventbus.Bus[command.Command]
	opts     Options

	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewServer 创建控制面接口
func NewServer(commands Commands, devices Devices, bus *eventbus.Bus[command.Command], opts Options) *Server {
	s := &Server{
		commands: commands,
		devices:  devices,
		bus:      bus,
		opts:     opts,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/devices/{deviceId}", s.handleDeviceStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{deviceId}/events", s.handleDeviceEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{deviceId}/commands", s.handleCreateCommand).Methods(http.MethodPost)
	r.HandleFunc("/api/devices/{deviceId}/commands/{reqId}", s.handleGetCommand).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{deviceId}/commands/{reqId}/retry", s.handleRetryCommand).Methods(http.MethodPost)

	in := r.PathPrefix("/internal").Subrouter()
	in.Use(s.requireToken)
	in.HandleFunc("/auth", s.handleAuth).Methods(http.MethodGet)
	in.HandleFunc("/telemetry/{deviceId}", s.handleTelemetry).Methods(http.MethodPost)
	in.HandleFunc("/ack/{deviceId}", s.handleAck).Methods(http.MethodPost)
	in.HandleFunc("/event/{deviceId}", s.handleEvent).Methods(http.MethodPost)
	in.HandleFunc("/gateway/deviceOnline", s.handlePresence(true)).Methods(http.MethodPost)
	in.HandleFunc("/gateway/deviceOffline", s.handlePresence(false)).Methods(http.MethodPost)

	r.HandleFunc("/ws/devices/{deviceId}/commands", s.handleCommandStream).Methods(http.MethodGet)
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON 解析请求体，失败时写 400 并返回 false
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		apierr.Write(w, apierr.Newf(apierr.InvalidRequest, "Request body is required"))
	} else {
		apierr.Write(w, apierr.Wrap(apierr.InvalidRequest, err))
	}
	return false
}

// writeError 写错误响应，非业务错误记录日志
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apierr.CodeOf(err) == apierr.InternalError {
		logger.Error("请求处理失败", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	apierr.Write(w, err)
}
