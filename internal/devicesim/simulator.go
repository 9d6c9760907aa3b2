// Package devicesim 模拟一台桌宠设备
//
// 模拟器以设备身份连接网关，订阅自己的指令主题，
// 对每条指令延迟一段时间后回执成功，并按固定间隔上报遥测。
// 可选地周期性主动断开再重连，用于观察在线状态与路由切换。
package devicesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/deskpet/pet-gateway/internal/control/command"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("devicesim")

// 回执码
const (
	CodeDone       = "DONE"
	CodeBadPayload = "BAD_PAYLOAD"
)

// FirmwareVersion 上报的固件版本
const FirmwareVersion = "0.1.0"

// ErrConnectTimeout 首次连接超时
var ErrConnectTimeout = errors.New("devicesim: connect timeout")

// Options 模拟器参数
type Options struct {
	// Broker 网关地址，如 tcp://localhost:1883
	Broker string

	DeviceID string
	Secret   string

	// TelemetryInterval 遥测上报间隔，<=0 时不上报
	TelemetryInterval time.Duration

	// AckDelay 收到指令到回执的延迟
	AckDelay time.Duration

	// SchemaVersion 遥测协议版本
	SchemaVersion int

	// ReconnectInterval 主动断线周期，<=0 时不断线
	ReconnectInterval time.Duration

	// ReconnectDown 主动断开后等待多久再重连
	ReconnectDown time.Duration
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		Broker:            "tcp://localhost:1883",
		TelemetryInterval: 5 * time.Second,
		AckDelay:          200 * time.Millisecond,
		SchemaVersion:     command.SchemaVersion,
		ReconnectDown:     3 * time.Second,
	}
}

// Publisher 发布消息的最小接口，paho.Client 满足
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Simulator 设备模拟器
type Simulator struct {
	opts  Options
	clock clock.Clock
	pub   Publisher

	mu         sync.Mutex
	lastAction string

	// acks 等待中的延迟回执
	acks sync.WaitGroup
}

// New 创建模拟器
func New(opts Options, clk clock.Clock) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	if opts.SchemaVersion == 0 {
		opts.SchemaVersion = command.SchemaVersion
	}
	return &Simulator{opts: opts, clock: clk, lastAction: "idle"}
}

// Run 连接网关并运行到 ctx 结束
//
// 首次连接失败直接返回；之后的断线由 paho 自动重连，重连后重新订阅。
func (s *Simulator) Run(ctx context.Context) error {
	client := paho.NewClient(s.clientOptions())
	s.pub = client

	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return ErrConnectTimeout
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("devicesim: connect %s: %w", s.opts.Broker, err)
	}

	var wg sync.WaitGroup
	if s.opts.TelemetryInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.telemetryLoop(ctx)
		}()
	}
	if s.opts.ReconnectInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.reconnectLoop(ctx, client)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	s.acks.Wait()
	client.Disconnect(250)
	logger.Info("模拟器已退出", "deviceId", s.opts.DeviceID)
	return nil
}

func (s *Simulator) clientOptions() *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.DeviceID).
		SetUsername(s.opts.DeviceID).
		SetPassword(s.opts.Secret).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			logger.Info("已连接", "deviceId", s.opts.DeviceID)
			c.Subscribe(topic.Command(s.opts.DeviceID), 1, func(_ paho.Client, m paho.Message) {
				s.HandleCommand(m.Payload())
			})
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("连接断开", "deviceId", s.opts.DeviceID, "err", err)
		})
}

// HandleCommand 处理一条下行指令，延迟 AckDelay 后发布回执
func (s *Simulator) HandleCommand(payload []byte) {
	ack := s.buildAck(payload)
	if s.opts.AckDelay <= 0 {
		s.publishJSON(topic.CommandAck(s.opts.DeviceID), 1, ack)
		return
	}
	// 定时器在当前 goroutine 创建，回执时刻只取决于指令到达时刻
	due := s.clock.After(s.opts.AckDelay)
	s.acks.Add(1)
	go func() {
		defer s.acks.Done()
		<-due
		s.publishJSON(topic.CommandAck(s.opts.DeviceID), 1, ack)
	}()
}

// buildAck 根据指令生成回执，无法解析时回执 BAD_PAYLOAD
func (s *Simulator) buildAck(payload []byte) command.Ack {
	now := s.clock.Now().Unix()

	var env command.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warn("指令无法解析", "deviceId", s.opts.DeviceID, "err", err)
		return command.Ack{
			SchemaVersion: command.SchemaVersion,
			OK:            false,
			Code:          CodeBadPayload,
			Message:       "invalid payload",
			TS:            now,
		}
	}

	if env.Type != "" {
		s.mu.Lock()
		s.lastAction = env.Type
		s.mu.Unlock()
	}
	version := env.SchemaVersion
	if version == 0 {
		version = command.SchemaVersion
	}
	logger.Info("收到指令", "deviceId", s.opts.DeviceID, "reqId", env.ReqID, "type", env.Type)
	return command.Ack{
		SchemaVersion: version,
		ReqID:         env.ReqID,
		OK:            true,
		Code:          CodeDone,
		Message:       "ok",
		TS:            now,
	}
}

// Telemetry 生成一条遥测
func (s *Simulator) Telemetry() map[string]any {
	s.mu.Lock()
	last := s.lastAction
	s.mu.Unlock()
	return map[string]any{
		"schemaVersion":   s.opts.SchemaVersion,
		"ts":              s.clock.Now().Unix(),
		"firmwareVersion": FirmwareVersion,
		"rssi":            -70 + rand.IntN(31),
		"battery":         math.Round((0.4+rand.Float64()*0.6)*100) / 100,
		"lastAction":      last,
	}
}

func (s *Simulator) telemetryLoop(ctx context.Context) {
	ticker := s.clock.Ticker(s.opts.TelemetryInterval)
	defer ticker.Stop()
	for {
		s.publishJSON(topic.TelemetryOf(s.opts.DeviceID), 0, s.Telemetry())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconnectLoop 周期性主动断开再重连
func (s *Simulator) reconnectLoop(ctx context.Context, client paho.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.opts.ReconnectInterval):
		}
		logger.Info("模拟断线", "deviceId", s.opts.DeviceID)
		client.Disconnect(250)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.opts.ReconnectDown):
		}
		logger.Info("重新连接", "deviceId", s.opts.DeviceID)
		if tok := client.Connect(); tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
			logger.Warn("重连失败", "deviceId", s.opts.DeviceID, "err", tok.Error())
		}
	}
}

func (s *Simulator) publishJSON(name string, qos byte, v any) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("序列化失败", "topic", name, "err", err)
		return
	}
	s.pub.Publish(name, qos, false, data)
}
