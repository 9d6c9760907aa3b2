package httpcall

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

// Params 调用器依赖
type Params struct {
	fx.In

	Clock clock.Clock `optional:"true"`
}

// Module 返回出站 HTTP 调用 Fx 模块
//
// 进程内所有出站调用共享同一个连接池，停止时关闭空闲连接。
func Module() fx.Option {
	return fx.Module("httpcall",
		fx.Provide(ProvideCaller),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideCaller 提供共享调用器及其 http.Client
func ProvideCaller(p Params) (*Caller, *http.Client) {
	client := NewClient()
	return New(client, p.Clock), client
}

// NewClient 创建带连接池的 http.Client
//
// 单次请求超时由 Options.Timeout 控制，这里不设置整体超时。
func NewClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 256
	tr.MaxIdleConnsPerHost = 64
	tr.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: tr}
}

func registerLifecycle(lc fx.Lifecycle, client *http.Client) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			client.CloseIdleConnections()
			return nil
		},
	})
}
