// Package httpserver 封装带生命周期的 HTTP 服务
//
// Start 同步完成监听（端口冲突立即返回错误），随后在后台处理请求；
// Stop 优雅关闭，ctx 到期后强制关闭剩余连接。
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("core/httpserver")

// ErrStarted 服务已启动
var ErrStarted = errors.New("httpserver: already started")

// Server HTTP 服务
type Server struct {
	name    string
	addr    string
	handler http.Handler

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// New 创建 HTTP 服务，name 仅用于日志
func New(name, addr string, handler http.Handler) *Server {
	return &Server{name: name, addr: addr, handler: handler}
}

// Start 监听并在后台处理请求
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpserver: %s listen %s: %w", s.name, s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP 服务异常退出", "name", s.name, "err", err)
		}
	}()

	s.srv, s.ln, s.done = srv, ln, done
	logger.Info("HTTP 服务已启动", "name", s.name, "addr", ln.Addr().String())
	return nil
}

// Addr 返回实际监听地址，未启动时为空
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		err = multierr.Append(err, srv.Close())
	}
	<-done
	logger.Info("HTTP 服务已停止", "name", s.name)
	return err
}
