// Package httpcall 实现带重试的出站 HTTP 调用
//
// 网关对控制面的所有调用（鉴权、上行转发、在线状态通知）都经过 Caller：
//   - 传输错误（含单次超时）或 5xx 视为可重试
//   - attempt < MaxRetries 时等待 RetryDelay 后重试，延迟为 0 则立即重试
//   - 每次重试都通过 RequestBuilder 重新构建请求（令牌等请求头可能随时间变化）
//   - 4xx 为不可重试的最终结果，以 Response 返回而不是 error
package httpcall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("core/httpcall")

// maxBodySize 响应体读取上限
const maxBodySize = 1 << 20

// RequestBuilder 为每次尝试构建一个新的请求
type RequestBuilder func(ctx context.Context, body []byte) (*http.Request, error)

// RetryHook 在每次决定重试前调用，不影响控制流
//
// attempt 从 1 开始，表示即将进行的第几次重试；err 与 status 描述上一次失败。
type RetryHook func(attempt int, err error, status int)

// Options 单次调用的超时与重试参数
type Options struct {
	// Timeout 单次尝试超时，0 表示不设置
	Timeout time.Duration

	// MaxRetries 最大重试次数（不含首次）
	MaxRetries int

	// RetryDelay 重试间隔，负数按 0 处理
	RetryDelay time.Duration

	// OnRetry 重试钩子，可为 nil
	OnRetry RetryHook
}

// Response 最终响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK 是否为 2xx
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ServerError 是否为 5xx
func (r *Response) ServerError() bool {
	return r != nil && r.StatusCode >= 500
}

// Caller 带重试的 HTTP 调用器
type Caller struct {
	client *http.Client
	clock  clock.Clock
}

// New 创建调用器
//
// client 为 nil 时使用 http.DefaultClient，clk 为 nil 时使用真实时钟。
func New(client *http.Client, clk clock.Clock) *Caller {
	if client == nil {
		client = http.DefaultClient
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Caller{client: client, clock: clk}
}

// Do 发起请求并按需重试
//
// 返回值：
//   - 2xx/4xx，或重试耗尽时的最后一个 5xx：(*Response, nil)
//   - 重试耗尽时的传输错误：(nil, error)，error 包装 ErrTransport
//   - 构建请求失败或 ctx 被取消：(nil, error)
func (c *Caller) Do(ctx context.Context, build RequestBuilder, body []byte, opts Options) (*Response, error) {
	delay := opts.RetryDelay
	if delay < 0 {
		delay = 0
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, build, body, opts.Timeout)
		if err == nil && !resp.ServerError() {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var be *buildError
		if errors.As(err, &be) {
			return nil, err
		}

		if attempt >= opts.MaxRetries {
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransport, err)
			}
			return resp, nil
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		logger.Debug("出站调用失败，准备重试", "attempt", attempt+1, "status", status, "err", err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err, status)
		}

		if delay > 0 {
			t := c.clock.Timer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
}

// buildError 构建请求失败，不可重试
type buildError struct{ err error }

func (e *buildError) Error() string { return "httpcall: build request: " + e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

func (c *Caller) once(ctx context.Context, build RequestBuilder, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := build(ctx, body)
	if err != nil {
		return nil, &buildError{err: err}
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// NewBuilder 返回一个固定方法与地址的 RequestBuilder
//
// header 在每次构建时调用，用于写入令牌等请求头，可为 nil。
// body 非空时设置 Content-Type: application/json。
func NewBuilder(method, url string, header func(http.Header)) RequestBuilder {
	return func(ctx context.Context, body []byte) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if header != nil {
			header(req.Header)
		}
		return req, nil
	}
}
