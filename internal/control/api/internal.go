package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/deskpet/pet-gateway/internal/control/apierr"
	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/control/registry"
)

// HeaderInternalToken 内部调用令牌请求头
const HeaderInternalToken = "X-Internal-Token"

// requireToken 配置了令牌时校验请求头
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			got := r.Header.Get(HeaderInternalToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
				logger.Warn("内部令牌校验失败", "path", r.URL.Path, "remote", r.RemoteAddr)
				apierr.Write(w, apierr.Newf(apierr.InternalTokenInvalid, "INVALID_INTERNAL_TOKEN"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleAuth 网关鉴权回调，响应体为纯文本结论
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID, secret := q.Get("deviceId"), q.Get("secret")
	if deviceID == "" || !q.Has("secret") {
		writeText(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}

	err := s.devices.Authenticate(deviceID, secret)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, "OK")
	case errors.Is(err, registry.ErrDeviceNotFound):
		writeText(w, http.StatusNotFound, "DEVICE_NOT_FOUND")
	case errors.Is(err, registry.ErrInvalidSecret):
		writeText(w, http.StatusUnauthorized, "INVALID_SECRET")
	default:
		logger.Error("设备鉴权出错", "deviceId", deviceID, "err", err)
		writeText(w, http.StatusInternalServerError, "INTERNAL_ERROR")
	}
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	var data map[string]any
	if !decodeJSON(w, r, &data) {
		return
	}
	if err := s.devices.UpdateTelemetry(deviceID, data); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	var ack command.Ack
	if !decodeJSON(w, r, &ack) {
		return
	}
	if err := s.commands.HandleAck(r.Context(), deviceID, ack); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// eventRequest 设备事件
type eventRequest struct {
	EventID   string         `json:"eventId"`
	EventType string         `json:"eventType"`
	Timestamp int64          `json:"timestamp"`
	Params    map[string]any `json:"params"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	invalid := map[string]any{}
	if strings.TrimSpace(req.EventID) == "" {
		invalid["eventId"] = "must not be blank"
	}
	if strings.TrimSpace(req.EventType) == "" {
		invalid["eventType"] = "must not be blank"
	}
	if len(invalid) > 0 {
		apierr.Write(w, apierr.New(apierr.ValidationFailed).WithDetails(invalid))
		return
	}

	err := s.devices.RecordEvent(registry.Event{
		DeviceID:  deviceID,
		EventID:   req.EventID,
		EventType: req.EventType,
		Timestamp: req.Timestamp,
		Params:    req.Params,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// presenceRequest 网关在线状态通知
type presenceRequest struct {
	DeviceID          string `json:"deviceId"`
	GatewayInstanceID string `json:"gatewayInstanceId"`
	IP                string `json:"ip"`
}

func (s *Server) handlePresence(online bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req presenceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.DeviceID == "" {
			apierr.Write(w, apierr.New(apierr.ValidationFailed).WithDetails(map[string]any{"deviceId": "must not be blank"}))
			return
		}
		mark := s.devices.MarkOffline
		if online {
			mark = s.devices.MarkOnline
		}
		if err := mark(req.DeviceID, req.GatewayInstanceID, req.IP); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// deviceError 将注册表错误映射为业务错误
func deviceError(deviceID string, err error) error {
	if errors.Is(err, registry.ErrDeviceNotFound) {
		return apierr.New(apierr.DeviceNotFound).WithDetails(map[string]any{"deviceId": deviceID})
	}
	return err
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
