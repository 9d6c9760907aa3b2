package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/deskpet/pet-gateway/internal/control/apierr"
	"github.com/deskpet/pet-gateway/internal/control/registry"
)

// createCommandRequest 创建指令请求
type createCommandRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	var req createCommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		apierr.Write(w, apierr.New(apierr.ValidationFailed).WithDetails(map[string]any{"type": "must not be blank"}))
		return
	}

	cmd, err := s.commands.Create(r.Context(), deviceID, req.Type, req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	apierr.WriteJSON(w, http.StatusAccepted, cmd)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cmd, err := s.commands.Find(vars["reqId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cmd.DeviceID != vars["deviceId"] {
		apierr.Write(w, apierr.New(apierr.CommandNotFound).WithDetails(map[string]any{"reqId": vars["reqId"]}))
		return
	}
	apierr.WriteJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleRetryCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cmd, err := s.commands.Retry(r.Context(), vars["deviceId"], vars["reqId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	apierr.WriteJSON(w, http.StatusAccepted, cmd)
}

// deviceStatus 设备状态
type deviceStatus struct {
	DeviceID  string              `json:"deviceId"`
	CreatedAt time.Time           `json:"createdAt"`
	Presence  *registry.Presence  `json:"presence"`
	Telemetry *registry.Telemetry `json:"telemetry"`
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	dev, err := s.devices.Find(deviceID)
	if err != nil {
		writeError(w, r, deviceError(deviceID, err))
		return
	}
	presence, err := s.devices.Presence(deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	telemetry, err := s.devices.LatestTelemetry(deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	apierr.WriteJSON(w, http.StatusOK, deviceStatus{
		DeviceID:  dev.ID,
		CreatedAt: dev.CreatedAt,
		Presence:  presence,
		Telemetry: telemetry,
	})
}

// 事件查询条数
const (
	defaultEventLimit = 20
	maxEventLimit     = 200
)

func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventLimit {
			apierr.Write(w, apierr.New(apierr.InvalidParam).WithDetails(map[string]any{"limit": v}))
			return
		}
		limit = n
	}
	if _, err := s.devices.Find(deviceID); err != nil {
		writeError(w, r, deviceError(deviceID, err))
		return
	}
	events, err := s.devices.RecentEvents(deviceID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []registry.Event{}
	}
	apierr.WriteJSON(w, http.StatusOK, events)
}
