// Package upstream 实现网关到控制面的回调
//
// 所有调用都经过 httpcall.Caller：
//   - Authenticate: GET /internal/auth，决定是否接受设备连接
//   - Forward: 将上行原始负载转发到 /internal/{telemetry|ack|event}/<id>
//   - NotifyOnline / NotifyOffline: 尽力而为的在线状态通知，
//     在后台按设备顺序执行，失败只记录日志与指标，不影响调用方
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/httpcall"
	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("gateway/upstream")

// HeaderInternalToken 内部调用令牌请求头
const HeaderInternalToken = "X-Internal-Token"

// AuthResult 鉴权结论
type AuthResult int

const (
	// AuthRejected 拒绝连接
	AuthRejected AuthResult = iota
	// AuthAccepted 控制面返回 200
	AuthAccepted
	// AuthFailOpen 控制面不可用，按 fail-open 策略放行
	AuthFailOpen
)

// Accepted 是否接受连接
func (r AuthResult) Accepted() bool {
	return r == AuthAccepted || r == AuthFailOpen
}

// Options 回调参数
type Options struct {
	// BaseURL 控制面内部接口基础地址
	BaseURL string

	// Token 内部调用令牌，为空时不发送
	Token string

	// InstanceID 网关实例标识
	InstanceID string

	// Auth 鉴权超时、重试与 fail-open 策略
	Auth config.AuthConfig

	// Callback 转发与在线通知的超时与重试
	Callback config.RetryPolicy
}

// OptionsFromConfig 从统一配置构建回调参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:    cfg.Core.InternalBaseURL,
		Token:      cfg.Internal.Token,
		InstanceID: cfg.Gateway.InstanceID,
		Auth:       cfg.Auth,
		Callback:   cfg.Callback,
	}
}

// Client 控制面回调客户端
type Client struct {
	caller  *httpcall.Caller
	opts    Options
	metrics *metrics.Gateway

	// 后台通知的生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// presence 每个设备待发送的在线状态通知，存在即表示有 drain 协程在运行
	presenceMu sync.Mutex
	presence   map[string][]presenceNotice
}

// presenceNotice 一条待发送的在线状态通知
type presenceNotice struct {
	online bool
	body   []byte
}

// New 创建回调客户端
func New(caller *httpcall.Caller, opts Options, m *metrics.Gateway) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		caller:   caller,
		opts:     opts,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		presence: make(map[string][]presenceNotice),
	}
}

// Authenticate 校验设备 ID 与密钥
//
// 只有 200 视为通过。传输错误或 5xx 且开启 fail-open 时放行，
// 其他结果（包括 401/404 等 4xx）一律拒绝。
func (c *Client) Authenticate(ctx context.Context, deviceID, secret string) AuthResult {
	q := url.Values{}
	q.Set("deviceId", deviceID)
	q.Set("secret", secret)
	build := httpcall.NewBuilder(http.MethodGet, c.opts.BaseURL+"/internal/auth?"+q.Encode(), c.setToken)

	resp, err := c.caller.Do(ctx, build, nil, c.retryOptions(c.opts.Auth.RetryPolicy, func(int, error, int) {
		c.metrics.AuthRetry.Inc()
	}))
	if err == nil && resp.StatusCode == http.StatusOK {
		return AuthAccepted
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	transient := err != nil || resp.ServerError()
	if transient && c.opts.Auth.FailOpen {
		logger.Warn("鉴权失败但启用了 fail-open，放行连接", "deviceId", deviceID, "status", status, "err", err)
		return AuthFailOpen
	}

	c.metrics.AuthFail.Inc()
	logger.Warn("鉴权拒绝", "deviceId", deviceID, "status", status, "err", err)
	return AuthRejected
}

// Forward 将上行负载转发到控制面
//
// 返回 error 表示转发最终失败（传输错误或 >=400），调用方据此记录日志。
func (c *Client) Forward(ctx context.Context, kind topic.Kind, deviceID string, payload []byte) error {
	target := fmt.Sprintf("%s/internal/%s/%s", c.opts.BaseURL, kind, url.PathEscape(deviceID))
	build := httpcall.NewBuilder(http.MethodPost, target, c.setToken)

	resp, err := c.caller.Do(ctx, build, payload, c.retryOptions(c.opts.Callback, nil))
	if err == nil && resp.StatusCode < 400 {
		return nil
	}
	c.metrics.CallbackFail.Inc()
	if err != nil {
		return err
	}
	return &StatusError{StatusCode: resp.StatusCode}
}

// presenceRequest 在线状态通知请求体
type presenceRequest struct {
	DeviceID          string `json:"deviceId"`
	GatewayInstanceID string `json:"gatewayInstanceId"`
	IP                string `json:"ip"`
}

// NotifyOnline 后台通知设备上线
func (c *Client) NotifyOnline(deviceID, ip string) {
	c.notifyPresence(deviceID, ip, true)
}

// NotifyOffline 后台通知设备下线
func (c *Client) NotifyOffline(deviceID, ip string) {
	c.notifyPresence(deviceID, ip, false)
}

// notifyPresence 将通知排入设备队列
//
// 同一设备的通知按调用顺序逐条发送，前一条结束（含重试）后才发送下一条，
// 保证控制面看到的上下线顺序与连接顺序一致。
func (c *Client) notifyPresence(deviceID, ip string, online bool) {
	body, err := json.Marshal(presenceRequest{DeviceID: deviceID, GatewayInstanceID: c.opts.InstanceID, IP: ip})
	if err != nil {
		logger.Error("序列化在线通知失败", "deviceId", deviceID, "err", err)
		return
	}

	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	queue, running := c.presence[deviceID]
	c.presence[deviceID] = append(queue, presenceNotice{online: online, body: body})
	if !running {
		c.wg.Add(1)
		go c.drainPresence(deviceID)
	}
}

// drainPresence 依次发送设备的在线状态通知，队列为空时退出
func (c *Client) drainPresence(deviceID string) {
	defer c.wg.Done()
	for {
		c.presenceMu.Lock()
		queue := c.presence[deviceID]
		if len(queue) == 0 {
			delete(c.presence, deviceID)
			c.presenceMu.Unlock()
			return
		}
		n := queue[0]
		c.presence[deviceID] = queue[1:]
		c.presenceMu.Unlock()

		c.sendPresence(deviceID, n)
	}
}

func (c *Client) sendPresence(deviceID string, n presenceNotice) {
	path := "/internal/gateway/deviceOffline"
	if n.online {
		path = "/internal/gateway/deviceOnline"
	}
	build := httpcall.NewBuilder(http.MethodPost, c.opts.BaseURL+path, c.setToken)
	resp, err := c.caller.Do(c.ctx, build, n.body, c.retryOptions(c.opts.Callback, nil))
	if err == nil && resp.StatusCode < 400 {
		return
	}
	c.metrics.CallbackFail.Inc()
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	logger.Warn("在线状态通知失败", "deviceId", deviceID, "online", n.online, "status", status, "err", err)
}

// Close 等待进行中的通知完成，ctx 到期后取消剩余通知
func (c *Client) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.cancel()
		<-done
	}
	c.cancel()
}

func (c *Client) setToken(h http.Header) {
	if c.opts.Token != "" {
		h.Set(HeaderInternalToken, c.opts.Token)
	}
}

func (c *Client) retryOptions(p config.RetryPolicy, hook httpcall.RetryHook) httpcall.Options {
	return httpcall.Options{
		Timeout:    p.Timeout.Duration(),
		MaxRetries: p.MaxRetries,
		RetryDelay: p.RetryDelay.Duration(),
		OnRetry:    hook,
	}
}
