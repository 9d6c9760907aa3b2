package logger

import (
	"context"
	"io"
	"log/slog"
)

// componentHandler 按 component 属性过滤级别的 slog.Handler
//
// LazyLogger 通过 With("component", x) 携带组件名，
// WithAttrs 捕获该属性后，Enabled 使用对应组件的级别。
type componentHandler struct {
	cfg   *Config
	level slog.Level
	inner slog.Handler
}

// NewHandler 根据配置创建 handler
func NewHandler(w io.Writer, cfg *Config) slog.Handler {
	// inner 放行所有级别，过滤由 componentHandler 负责
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}
	var inner slog.Handler
	if cfg.Format == FormatJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return &componentHandler{cfg: cfg, level: cfg.DefaultLevel, inner: inner}
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	level := h.level
	for _, a := range attrs {
		if a.Key == "component" {
			level = h.cfg.LevelFor(a.Value.String())
		}
	}
	return &componentHandler{cfg: h.cfg, level: level, inner: h.inner.WithAttrs(attrs)}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{cfg: h.cfg, level: h.level, inner: h.inner.WithGroup(name)}
}

// Setup 从环境变量构建 handler 并设为进程默认
func Setup(w io.Writer) *slog.Logger {
	l := slog.New(NewHandler(w, ConfigFromEnv()))
	slog.SetDefault(l)
	return l
}

// Discard 返回一个丢弃所有日志的 Logger
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
