package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/deskpet/pet-gateway/internal/core/metrics"
	"github.com/deskpet/pet-gateway/internal/core/routing"
)

// ServerOptions 网关服务参数
type ServerOptions struct {
	// Addr 监听地址，如 "0.0.0.0:1883"
	Addr string

	// Workers worker 数量，<=0 时取 CPU 核数
	Workers int

	// Worker 单个 worker 参数
	Worker Options
}

// Server MQTT 网关服务
type Server struct {
	opts    ServerOptions
	routes  *routing.Table
	up      Upstream
	metrics *metrics.Gateway
	clock   clock.Clock

	mu      sync.Mutex
	ln      net.Listener
	workers []*Worker
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewServer 创建网关服务
func NewServer(opts ServerOptions, routes *routing.Table, up Upstream, m *metrics.Gateway, clk clock.Clock) *Server {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Server{opts: opts, routes: routes, up: up, metrics: m, clock: clk}
}

// Start 监听端口并启动所有 worker
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("mqtt: listen %s: %w", s.opts.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	workers := make([]*Worker, s.opts.Workers)
	for i := range workers {
		w := NewWorker(fmt.Sprintf("worker-%d", i), s.opts.Worker, s.routes, s.up, s.metrics, s.clock)
		workers[i] = w
		g.Go(func() error { return w.Run(gctx) })
		g.Go(func() error { return s.acceptLoop(gctx, ln, w) })
	}

	s.ln, s.workers, s.group, s.cancel = ln, workers, g, cancel
	logger.Info("MQTT 网关已启动", "addr", ln.Addr().String(), "workers", len(workers))
	return nil
}

// acceptLoop 每个 worker 在共享监听上独立 Accept
//
// 除监听关闭与 ctx 取消外，Accept 错误（超时、EMFILE 等）都退避后重试，
// 单次失败不会让整个网关停止服务。
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, w *Worker) error {
	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			backoff = nextBackoff(backoff)
			logger.Warn("Accept 失败，稍后重试", "worker", w.ID(), "err", err, "backoff", backoff)
			select {
			case <-s.clock.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0
		w.Serve(nc)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// Addr 返回实际监听地址，未启动时为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Workers 返回 worker 列表
func (s *Server) Workers() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Worker(nil), s.workers...)
}

// Stop 关闭监听与所有连接，等待 worker 退出
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln, g, cancel := s.ln, s.group, s.cancel
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case werr := <-done:
		err = multierr.Append(err, werr)
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	logger.Info("MQTT 网关已停止")
	return err
}
