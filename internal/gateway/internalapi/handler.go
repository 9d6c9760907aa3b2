// Package internalapi 实现网关的内部 HTTP 接口
//
//	POST /internal/command/send  控制面下发指令，按路由表投递到持有连接的 worker
//	GET  /metrics                Prometheus 指标
//	GET  /healthz                存活检查
//
// 指令接口的响应体统一为 {"ok":bool,"reason":string}：
//
//	200 SENT                     已发布到设备
//	409 OFFLINE / worker 原因     无路由或 worker 报告未送达
//	400 BAD_REQUEST / EMPTY_PAYLOAD
//	401 INVALID_INTERNAL_TOKEN
//	500 DISPATCH_FAILED          投递到 worker 超时或出错
package internalapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("gateway/internalapi")

// HeaderInternalToken 内部调用令牌请求头
const HeaderInternalToken = "X-Internal-Token"

// 失败原因
const (
	ReasonBadRequest   = "BAD_REQUEST"
	ReasonEmptyPayload = "EMPTY_PAYLOAD"
	ReasonInvalidToken = "INVALID_INTERNAL_TOKEN"
)

const (
	defaultQoS          = 1
	maxRequestBodyBytes = 1 << 20
)

// sendRequest 指令下发请求
type sendRequest struct {
	DeviceID string `json:"deviceId"`
	Topic    string `json:"topic"`
	QoS      *int   `json:"qos"`
	Payload  string `json:"payload"`
}

// Options 接口参数
type Options struct {
	// Token 内部调用令牌，为空时不校验
	Token string

	// DispatchTimeout 投递到 worker 的超时
	DispatchTimeout time.Duration
}

// Handler 网关内部接口
type Handler struct {
	routes   *routing.Table
	metrics  *metrics.Gateway
	gatherer prometheus.Gatherer
	opts     Options
	router   *mux.Router
}

// NewHandler 创建内部接口，gatherer 为 nil 时不提供 /metrics
func NewHandler(routes *routing.Table, m *metrics.Gateway, gatherer prometheus.Gatherer, opts Options) *Handler {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 3000 * time.Millisecond
	}
	h := &Handler{routes: routes, metrics: m, gatherer: gatherer, opts: opts, router: mux.NewRouter()}
	h.router.HandleFunc("/internal/command/send", h.handleSend).Methods(http.MethodPost)
	h.router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		h.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return h
}

// ServeHTTP 实现 http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": h.routes.Len()})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if h.opts.Token != "" {
		got := r.Header.Get(HeaderInternalToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.Token)) != 1 {
			writeReply(w, http.StatusUnauthorized, routing.Reply{Reason: ReasonInvalidToken})
			return
		}
	}
	h.metrics.CommandSend.Inc()

	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(&req); err != nil || req.DeviceID == "" {
		h.metrics.CommandSendFail.Inc()
		writeReply(w, http.StatusBadRequest, routing.Reply{Reason: ReasonBadRequest})
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		h.metrics.CommandSendFail.Inc()
		writeReply(w, http.StatusBadRequest, routing.Reply{Reason: ReasonEmptyPayload})
		return
	}

	owner, ok := h.routes.Lookup(req.DeviceID)
	if !ok {
		h.metrics.CommandSendFail.Inc()
		writeReply(w, http.StatusConflict, routing.Reply{Reason: routing.ReasonOffline})
		return
	}

	cmd := routing.Downlink{
		DeviceID: req.DeviceID,
		Topic:    req.Topic,
		QoS:      clampQoS(req.QoS),
		Payload:  []byte(req.Payload),
	}
	if cmd.Topic == "" {
		cmd.Topic = topic.Command(req.DeviceID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.DispatchTimeout)
	defer cancel()
	reply, err := owner.Deliver(ctx, cmd)
	if err != nil {
		h.metrics.CommandSendFail.Inc()
		logger.Warn("指令投递失败", "deviceId", req.DeviceID, "worker", owner.ID(), "err", err)
		writeReply(w, http.StatusInternalServerError, routing.Reply{Reason: routing.ReasonDispatchFailed})
		return
	}
	if !reply.OK {
		h.metrics.CommandSendFail.Inc()
		writeReply(w, http.StatusConflict, reply)
		return
	}
	h.metrics.CommandSendOk.Inc()
	writeReply(w, http.StatusOK, routing.Reply{OK: true, Reason: routing.ReasonSent})
}

// clampQoS 缺省或越界时取 1
func clampQoS(q *int) byte {
	if q == nil || *q < 0 || *q > 2 {
		return defaultQoS
	}
	return byte(*q)
}

func writeReply(w http.ResponseWriter, status int, reply routing.Reply) {
	writeJSON(w, status, reply)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
