// Package registry 维护控制面的设备注册表
//
// 包括设备与密钥、在线状态、最新遥测和近期事件，全部存储在 BadgerDB 中。
// 设备存在性查询走一层带过期时间的 LRU 缓存：指令创建和设备鉴权
// 都要查设备，缓存让热路径不必每次打开事务。
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/internal/core/storage/kv"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("control/registry")

// Device 已注册设备
type Device struct {
	ID         string    `json:"deviceId"`
	SecretHash string    `json:"secretHash"`
	SecretSalt string    `json:"secretSalt"`
	Iterations int       `json:"iterations"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Presence 设备在线状态
type Presence struct {
	DeviceID          string    `json:"deviceId"`
	Online            bool      `json:"online"`
	GatewayInstanceID string    `json:"gatewayInstanceId"`
	IP                string    `json:"ip"`
	LastSeen          time.Time `json:"lastSeen"`
}

// Telemetry 最新遥测
type Telemetry struct {
	DeviceID  string         `json:"deviceId"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Event 设备事件
type Event struct {
	DeviceID   string         `json:"deviceId"`
	EventID    string         `json:"eventId"`
	EventType  string         `json:"eventType"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// Options 注册表参数
type Options struct {
	// CacheSize 设备缓存容量
	CacheSize int

	// CacheTTL 设备缓存有效期
	CacheTTL time.Duration

	// EventTTL 事件保留时长
	EventTTL time.Duration

	// Iterations 新注册设备的 PBKDF2 迭代次数
	Iterations int
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		CacheSize:  1024,
		CacheTTL:   30 * time.Second,
		EventTTL:   24 * time.Hour,
		Iterations: DefaultIterations,
	}
}

// OptionsFromConfig 从统一配置构建参数
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.Registry.CacheSize > 0 {
		opts.CacheSize = cfg.Registry.CacheSize
	}
	if ttl := cfg.Registry.CacheTTL.Duration(); ttl > 0 {
		opts.CacheTTL = ttl
	}
	return opts
}

// Registry 设备注册表
type Registry struct {
	devices   *kv.Store
	presence  *kv.Store
	telemetry *kv.Store
	events    *kv.Store

	cache    *expirable.LRU[string, *Device]
	eventSeq atomic.Uint32

	hasher Hasher
	opts   Options
	clock  clock.Clock
}

// New 创建注册表
func New(eng engine.Engine, opts Options, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.EventTTL <= 0 {
		opts.EventTTL = DefaultOptions().EventTTL
	}
	return &Registry{
		devices:   kv.New(eng, []byte("d/")),
		presence:  kv.New(eng, []byte("p/")),
		telemetry: kv.New(eng, []byte("t/")),
		events:    kv.New(eng, []byte("e/")),
		cache:     expirable.NewLRU[string, *Device](opts.CacheSize, nil, opts.CacheTTL),
		hasher:    Hasher{Iterations: opts.Iterations},
		opts:      opts,
		clock:     clk,
	}
}

// Register 注册设备
func (r *Registry) Register(deviceID, secret string) (*Device, error) {
	if deviceID == "" || secret == "" {
		return nil, ErrInvalidDevice
	}
	hash, salt, err := r.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("registry: hash secret: %w", err)
	}
	dev := &Device{
		ID:         deviceID,
		SecretHash: hash,
		SecretSalt: salt,
		Iterations: r.hasher.iterations(),
		CreatedAt:  r.clock.Now().UTC(),
	}

	err = r.devices.Update(func(tx *kv.Transaction) error {
		if _, err := tx.Get([]byte(deviceID)); err == nil {
			return ErrDeviceExists
		} else if !engine.IsNotFound(err) {
			return err
		}
		return tx.SetJSON([]byte(deviceID), dev)
	})
	if err != nil {
		return nil, err
	}
	r.cache.Add(deviceID, dev)
	logger.Info("设备已注册", "deviceId", deviceID)
	return dev, nil
}

// Seed 注册配置中尚不存在的设备
func (r *Registry) Seed(devices []config.DeviceConfig) error {
	for _, d := range devices {
		_, err := r.Register(d.ID, d.Secret)
		if err != nil && !errors.Is(err, ErrDeviceExists) {
			return fmt.Errorf("registry: seed %s: %w", d.ID, err)
		}
	}
	return nil
}

// Find 查询设备
func (r *Registry) Find(deviceID string) (*Device, error) {
	if dev, ok := r.cache.Get(deviceID); ok {
		return dev, nil
	}
	var dev Device
	if err := r.devices.GetJSON([]byte(deviceID), &dev); err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	r.cache.Add(deviceID, &dev)
	return &dev, nil
}

// Exists 设备是否存在
func (r *Registry) Exists(deviceID string) (bool, error) {
	_, err := r.Find(deviceID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrDeviceNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Authenticate 校验设备密钥
func (r *Registry) Authenticate(deviceID, secret string) error {
	dev, err := r.Find(deviceID)
	if err != nil {
		return err
	}
	if !r.hasher.Matches(secret, dev.SecretSalt, dev.SecretHash, dev.Iterations) {
		return ErrInvalidSecret
	}
	return nil
}

// List 返回所有设备，按 ID 排序
func (r *Registry) List() ([]*Device, error) {
	var out []*Device
	var decodeErr error
	err := r.devices.PrefixScan(nil, func(_, value []byte) bool {
		var dev Device
		if decodeErr = json.Unmarshal(value, &dev); decodeErr != nil {
			return false
		}
		out = append(out, &dev)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// MarkOnline 记录设备上线
func (r *Registry) MarkOnline(deviceID, gatewayInstanceID, ip string) error {
	return r.savePresence(deviceID, gatewayInstanceID, ip, true)
}

// MarkOffline 记录设备下线
func (r *Registry) MarkOffline(deviceID, gatewayInstanceID, ip string) error {
	return r.savePresence(deviceID, gatewayInstanceID, ip, false)
}

func (r *Registry) savePresence(deviceID, gatewayInstanceID, ip string, online bool) error {
	p := Presence{
		DeviceID:          deviceID,
		Online:            online,
		GatewayInstanceID: gatewayInstanceID,
		IP:                ip,
		LastSeen:          r.clock.Now().UTC(),
	}
	if err := r.presence.PutJSON([]byte(deviceID), p); err != nil {
		return err
	}
	logger.Info("设备在线状态变更", "deviceId", deviceID, "online", online, "gateway", gatewayInstanceID, "ip", ip)
	return nil
}

// Presence 查询在线状态，未上报过时返回 nil
func (r *Registry) Presence(deviceID string) (*Presence, error) {
	var p Presence
	if err := r.presence.GetJSON([]byte(deviceID), &p); err != nil {
		if engine.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// UpdateTelemetry 覆盖设备的最新遥测
func (r *Registry) UpdateTelemetry(deviceID string, data map[string]any) error {
	return r.telemetry.PutJSON([]byte(deviceID), Telemetry{
		DeviceID:  deviceID,
		Data:      data,
		UpdatedAt: r.clock.Now().UTC(),
	})
}

// LatestTelemetry 查询最新遥测，未上报过时返回 nil
func (r *Registry) LatestTelemetry(deviceID string) (*Telemetry, error) {
	var t Telemetry
	if err := r.telemetry.GetJSON([]byte(deviceID), &t); err != nil {
		if engine.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// RecordEvent 记录设备事件，超过 EventTTL 后自动过期
func (r *Registry) RecordEvent(ev Event) error {
	ev.ReceivedAt = r.clock.Now().UTC()
	key := fmt.Sprintf("%s/%020d/%010d", ev.DeviceID, ev.ReceivedAt.UnixNano(), r.eventSeq.Add(1))
	return r.events.PutJSONWithTTL([]byte(key), ev, r.opts.EventTTL)
}

// RecentEvents 返回设备最近的事件，新的在前
func (r *Registry) RecentEvents(deviceID string, limit int) ([]Event, error) {
	var all []Event
	var decodeErr error
	err := r.events.PrefixScan([]byte(deviceID+"/"), func(_, value []byte) bool {
		var ev Event
		if decodeErr = json.Unmarshal(value, &ev); decodeErr != nil {
			return false
		}
		all = append(all, ev)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	out := make([]Event, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
