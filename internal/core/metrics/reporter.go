package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("core/metrics")

// Reporter 周期性输出统计日志
type Reporter struct {
	gw       *Gateway
	interval time.Duration
	clock    clock.Clock

	// sink 接收每次快照，默认写日志
	sink func(Snapshot)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter 创建统计报告器，interval <= 0 时 Start 不做任何事
func NewReporter(gw *Gateway, interval time.Duration, clk clock.Clock) *Reporter {
	if clk == nil {
		clk = clock.New()
	}
	return &Reporter{gw: gw, interval: interval, clock: clk, sink: logSnapshot}
}

// Start 启动后台报告循环
func (r *Reporter) Start(_ context.Context) {
	if r.interval <= 0 {
		return
	}
	// 生命周期 ctx 在 OnStart 返回后即失效，循环使用独立 ctx
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	ticker := r.clock.Ticker(r.interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sink(r.gw.Snapshot())
			}
		}
	}()
}

// Stop 停止报告循环
func (r *Reporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func logSnapshot(s Snapshot) {
	logger.Info("网关统计",
		"online", s.Online,
		"telemetry", s.Telemetry,
		"ack", s.Ack,
		"cmdSend", s.CommandSend,
		"connect", s.Connect,
		"disconnect", s.Disconnect,
		"authFail", s.AuthFail,
		"callbackFail", s.CallbackFail,
	)
}
