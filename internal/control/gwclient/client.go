// Package gwclient 实现控制面到网关内部指令接口的调用
//
// 网关用 409 表示"结构化的未送达"（如设备离线），响应体与 200 同形，
// 因此 409 不视为错误，而是解析后返回给调用方。
// 其余非 2xx 状态作为 *StatusError 返回，调用方按网关不可用处理。
package gwclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/deskpet/pet-gateway/config"
	"github.com/deskpet/pet-gateway/internal/core/httpcall"
	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("control/gwclient")

// HeaderInternalToken 内部调用令牌请求头
const HeaderInternalToken = "X-Internal-Token"

// SendPath 网关内部指令接口路径
const SendPath = "/internal/command/send"

// SendRequest 指令下发请求
type SendRequest struct {
	DeviceID string `json:"deviceId"`
	Topic    string `json:"topic"`
	QoS      int    `json:"qos"`

	// Payload 已序列化的指令信封
	Payload string `json:"payload"`
}

// StatusError 网关返回非 2xx 且非 409
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gwclient: gateway returned status %d", e.StatusCode)
}

// Options 客户端参数
type Options struct {
	// BaseURL 网关内部接口基础地址
	BaseURL string

	// Token 内部调用令牌，为空时不发送
	Token string

	// Timeout 单次请求超时
	Timeout time.Duration

	// MaxRetries 传输失败或 5xx 的重试次数，默认 0
	//
	// 重试可能导致同一指令重复下发，设备按 reqId 去重。
	MaxRetries int
}

// OptionsFromConfig 从统一配置构建客户端参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL: strings.TrimRight(cfg.Core.GatewayBaseURL, "/"),
		Token:   cfg.Internal.Token,
		Timeout: cfg.Core.GatewayTimeout.Duration(),
	}
}

// Client 网关客户端
type Client struct {
	caller *httpcall.Caller
	opts   Options
}

// New 创建网关客户端
func New(caller *httpcall.Caller, opts Options) *Client {
	return &Client{caller: caller, opts: opts}
}

// Send 下发指令
//
// 返回值：
//   - 2xx：解析出的结果
//   - 409：解析出的结果；响应体为空或无法解析时返回 (nil, nil)
//   - 其他：(nil, error)，error 为传输错误或 *StatusError
func (c *Client) Send(ctx context.Context, req SendRequest) (*routing.Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gwclient: marshal request: %w", err)
	}

	build := httpcall.NewBuilder(http.MethodPost, c.opts.BaseURL+SendPath, c.setToken)
	resp, err := c.caller.Do(ctx, build, body, httpcall.Options{
		Timeout:    c.opts.Timeout,
		MaxRetries: c.opts.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.OK():
		var reply routing.Reply
		if err := json.Unmarshal(resp.Body, &reply); err != nil {
			return nil, fmt.Errorf("gwclient: decode reply: %w", err)
		}
		return &reply, nil
	case resp.StatusCode == http.StatusConflict:
		var reply routing.Reply
		if len(resp.Body) == 0 || json.Unmarshal(resp.Body, &reply) != nil {
			logger.Debug("网关 409 响应体为空或无法解析", "deviceId", req.DeviceID)
			return nil, nil
		}
		return &reply, nil
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
}

func (c *Client) setToken(h http.Header) {
	if c.opts.Token != "" {
		h.Set(HeaderInternalToken, c.opts.Token)
	}
}
