package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/deskpet/pet-gateway/internal/control/apierr"
	"github.com/deskpet/pet-gateway/internal/control/gwclient"
	"github.com/deskpet/pet-gateway/internal/core/eventbus"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("control/command")

// DeviceDirectory 设备注册表
type DeviceDirectory interface {
	Exists(deviceID string) (bool, error)
}

// Gateway 网关指令接口
type Gateway interface {
	Send(ctx context.Context, req gwclient.SendRequest) (*routing.Reply, error)
}

// Options 服务参数
type Options struct {
	// Timeout SENT 状态等待回执的时长
	Timeout time.Duration

	// ScanInterval 超时扫描间隔
	ScanInterval time.Duration

	// QoS 下发指令的 QoS
	QoS int
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		Timeout:      10 * time.Second,
		ScanInterval: 2 * time.Second,
		QoS:          1,
	}
}

// Service 指令分发服务
type Service struct {
	store   *Store
	devices DeviceDirectory
	gateway Gateway
	bus     *eventbus.Bus[Command]
	opts    Options
	clock   clock.Clock

	// marshal 序列化指令信封
	marshal func(v any) ([]byte, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService 创建指令分发服务
//
// bus 可为 nil，此时不推送状态变更。
func NewService(store *Store, devices DeviceDirectory, gw Gateway, bus *eventbus.Bus[Command], opts Options, clk clock.Clock) *Service {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = def.ScanInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store:   store,
		devices: devices,
		gateway: gw,
		bus:     bus,
		opts:    opts,
		clock:   clk,
		marshal: json.Marshal,
	}
}

// Create 创建并下发指令
//
// 设备不存在时返回 DeviceNotFound；网关不可达时指令记为 FAILED
// 并返回 GatewayUnavailable，其余分发失败只体现在返回的指令状态上。
func (s *Service) Create(ctx context.Context, deviceID, typ string, payload map[string]any) (*Command, error) {
	ok, err := s.devices.Exists(deviceID)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err)
	}
	if !ok {
		return nil, apierr.New(apierr.DeviceNotFound).WithDetails(map[string]any{"deviceId": deviceID})
	}

	now := s.now()
	cmd := Command{
		ReqID:     uuid.NewString(),
		DeviceID:  deviceID,
		Type:      typ,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(cmd); err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err)
	}
	s.publish(&cmd)
	logger.Info("指令已创建", "reqId", cmd.ReqID, "deviceId", deviceID, "type", typ)

	return s.dispatch(ctx, &cmd)
}

// Retry 重新下发 TIMEOUT 或 FAILED 状态的指令，沿用原 reqId
func (s *Service) Retry(ctx context.Context, deviceID, reqID string) (*Command, error) {
	var reject error
	cmd, changed, err := s.store.Transition(reqID, func(rec *record) bool {
		reject = nil
		switch {
		case rec.DeviceID != deviceID:
			reject = apierr.Newf(apierr.InvalidRequest, "Command does not belong to device").
				WithDetails(map[string]any{"deviceId": deviceID, "reqId": reqID})
			return false
		case !rec.Status.Retryable():
			reject = apierr.New(apierr.CommandNotRetryable).
				WithDetails(map[string]any{"status": string(rec.Status), "reqId": reqID})
			return false
		}
		rec.Status = StatusPending
		rec.AckCode, rec.AckMessage = "", ""
		rec.EarlyAck = nil
		rec.UpdatedAt = s.now()
		return true
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apierr.New(apierr.CommandNotFound).WithDetails(map[string]any{"reqId": reqID})
		}
		return nil, apierr.Wrap(apierr.InternalError, err)
	}
	if !changed {
		return nil, reject
	}
	s.publish(cmd)
	logger.Info("指令重试", "reqId", reqID, "deviceId", deviceID)

	return s.dispatch(ctx, cmd)
}

// Find 查询指令
func (s *Service) Find(reqID string) (*Command, error) {
	cmd, err := s.store.Get(reqID)
	if errors.Is(err, ErrNotFound) {
		return nil, apierr.New(apierr.CommandNotFound).WithDetails(map[string]any{"reqId": reqID})
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err)
	}
	return cmd, nil
}

// dispatch 序列化信封并经网关下发
func (s *Service) dispatch(ctx context.Context, cmd *Command) (*Command, error) {
	body, err := s.marshal(Envelope{
		SchemaVersion: SchemaVersion,
		Type:          cmd.Type,
		ReqID:         cmd.ReqID,
		TS:            s.clock.Now().Unix(),
		Payload:       cmd.Payload,
	})
	if err != nil {
		logger.Warn("序列化指令失败", "reqId", cmd.ReqID, "err", err)
		return s.fail(cmd.ReqID, CodeSerializeError, "Failed to serialize command payload")
	}

	reply, err := s.gateway.Send(ctx, gwclient.SendRequest{
		DeviceID: cmd.DeviceID,
		Topic:    topic.Command(cmd.DeviceID),
		QoS:      s.opts.QoS,
		Payload:  string(body),
	})
	if err != nil {
		logger.Warn("网关不可用，指令失败", "reqId", cmd.ReqID, "deviceId", cmd.DeviceID, "err", err)
		if _, ferr := s.fail(cmd.ReqID, CodeGatewayUnavailable, "Gateway unavailable"); ferr != nil {
			logger.Error("记录指令失败状态出错", "reqId", cmd.ReqID, "err", ferr)
		}
		return nil, apierr.Wrap(apierr.GatewayUnavailable, err).WithDetails(map[string]any{"reqId": cmd.ReqID})
	}

	if reply == nil || !reply.OK {
		reason := ReasonNoResponse
		if reply != nil && reply.Reason != "" {
			reason = reply.Reason
		}
		logger.Info("指令未送达", "reqId", cmd.ReqID, "deviceId", cmd.DeviceID, "reason", reason)
		return s.fail(cmd.ReqID, CodeOffline, reason)
	}
	return s.markSent(cmd.ReqID)
}

// fail PENDING → FAILED
func (s *Service) fail(reqID, code, message string) (*Command, error) {
	cmd, changed, err := s.store.Transition(reqID, func(rec *record) bool {
		if rec.Status != StatusPending {
			return false
		}
		rec.Status = StatusFailed
		rec.AckCode, rec.AckMessage = code, message
		rec.EarlyAck = nil
		rec.UpdatedAt = s.now()
		return true
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err)
	}
	if changed {
		s.publish(cmd)
	}
	return cmd, nil
}

// markSent PENDING → SENT，分发期间已到达的回执随后立即应用
func (s *Service) markSent(reqID string) (*Command, error) {
	var sent Command
	cmd, changed, err := s.store.Transition(reqID, func(rec *record) bool {
		if rec.Status != StatusPending {
			return false
		}
		rec.Status = StatusSent
		rec.AckCode, rec.AckMessage = "", ""
		rec.UpdatedAt = s.now()
		sent = rec.Command
		if rec.EarlyAck != nil {
			applyAck(rec, rec.EarlyAck, s.now())
			rec.EarlyAck = nil
		}
		return true
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, err)
	}
	if changed {
		s.publish(&sent)
		if cmd.Status != StatusSent {
			s.publish(cmd)
		}
		logger.Debug("指令已下发", "reqId", reqID, "status", string(cmd.Status))
	}
	return cmd, nil
}

// HandleAck 处理设备回执
//
// 只有 SENT 的指令会变为 ACKED 或 FAILED。仍在分发中（PENDING）的指令
// 暂存回执，待网关确认后应用。其余状态或未知 reqId 直接忽略，
// 同一回执重复到达没有额外效果。
func (s *Service) HandleAck(_ context.Context, deviceID string, ack Ack) error {
	if ack.ReqID == "" {
		return apierr.Newf(apierr.InvalidParam, "reqId is required")
	}
	cmd, changed, err := s.store.Transition(ack.ReqID, func(rec *record) bool {
		if deviceID != "" && rec.DeviceID != deviceID {
			return false
		}
		switch rec.Status {
		case StatusSent:
			applyAck(rec, &ack, s.now())
			return true
		case StatusPending:
			if rec.EarlyAck != nil {
				return false
			}
			early := ack
			rec.EarlyAck = &early
			return true
		default:
			return false
		}
	})
	if errors.Is(err, ErrNotFound) {
		logger.Debug("回执对应的指令不存在，忽略", "reqId", ack.ReqID, "deviceId", deviceID)
		return nil
	}
	if err != nil {
		return apierr.Wrap(apierr.InternalError, err)
	}
	if !changed {
		logger.Debug("回执与指令状态不匹配，忽略", "reqId", ack.ReqID, "status", string(cmd.Status))
		return nil
	}
	if cmd.Status != StatusPending {
		s.publish(cmd)
		logger.Info("收到指令回执", "reqId", ack.ReqID, "deviceId", cmd.DeviceID, "ok", ack.OK, "code", ack.Code)
	}
	return nil
}

func applyAck(rec *record, ack *Ack, now time.Time) {
	rec.Status = StatusFailed
	if ack.OK {
		rec.Status = StatusAcked
	}
	rec.AckCode, rec.AckMessage = ack.Code, ack.Message
	rec.UpdatedAt = now
}

// Sweep 将超时未回执的 SENT 指令置为 TIMEOUT，返回处理条数
func (s *Service) Sweep() (int, error) {
	now := s.now()
	cutoff := now.Add(-s.opts.Timeout)
	ids, err := s.store.SentBefore(cutoff)
	if err != nil && len(ids) == 0 {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		cmd, changed, terr := s.store.Transition(id, func(rec *record) bool {
			if rec.Status != StatusSent || !rec.UpdatedAt.Before(cutoff) {
				return false
			}
			rec.Status = StatusTimeout
			rec.AckCode, rec.AckMessage = CodeTimeout, "No ack within timeout"
			rec.UpdatedAt = now
			return true
		})
		if terr != nil {
			logger.Warn("超时处理失败", "reqId", id, "err", terr)
			continue
		}
		if changed {
			n++
			s.publish(cmd)
			logger.Info("指令超时", "reqId", id, "deviceId", cmd.DeviceID)
		}
	}
	return n, err
}

// Start 启动超时扫描
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.Ticker(s.opts.ScanInterval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(); err != nil {
					logger.Warn("超时扫描失败", "err", err)
				}
			}
		}
	}()
	logger.Info("指令超时扫描已启动", "interval", s.opts.ScanInterval, "timeout", s.opts.Timeout)
	return nil
}

// Stop 停止超时扫描
func (s *Service) Stop(_ context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Service) publish(cmd *Command) {
	if s.bus == nil || cmd == nil {
		return
	}
	s.bus.Publish(cmd.DeviceID, *cmd)
}

// now 存储统一使用 UTC，精度截断到毫秒
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}
