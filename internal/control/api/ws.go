package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/deskpet/pet-gateway/internal/control/apierr"
	"github.com/deskpet/pet-gateway/internal/core/eventbus"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongWait     = 2 * wsPingInterval
	wsBufSize      = 64
)

// handleCommandStream 推送设备的指令状态变更
//
// 客户端发来的消息一律丢弃，只用于感知连接关闭与 pong。
func (s *Server) handleCommandStream(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceId"]
	if s.bus == nil {
		apierr.Write(w, apierr.Newf(apierr.InternalError, "Command stream disabled"))
		return
	}
	sub, err := s.bus.Subscribe(deviceID, eventbus.BufSize(wsBufSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("WebSocket 升级失败", "deviceId", deviceID, "err", err)
		return
	}
	defer conn.Close()
	logger.Debug("指令状态订阅建立", "deviceId", deviceID, "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("指令状态订阅读取结束", "deviceId", deviceID, "err", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case cmd, ok := <-sub.Out():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(cmd); err != nil {
				logger.Debug("推送指令状态失败", "deviceId", deviceID, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
