package app

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BootstrapOption Bootstrap 配置选项
type BootstrapOption func(*Bootstrap)

// WithClock 替换所有模块使用的时钟
func WithClock(clk clock.Clock) BootstrapOption {
	return func(b *Bootstrap) {
		b.clock = clk
	}
}

// WithFxLogger 输出 fx 依赖注入事件，默认丢弃
func WithFxLogger(l *zap.Logger) BootstrapOption {
	return func(b *Bootstrap) {
		if l != nil {
			b.fxLogger = l
		}
	}
}

// WithLogFile 将日志追加写入文件，为空时输出到 stderr
func WithLogFile(path string) BootstrapOption {
	return func(b *Bootstrap) {
		b.logFile = path
	}
}

// WithTimeouts 设置启动与停止超时
func WithTimeouts(start, stop time.Duration) BootstrapOption {
	return func(b *Bootstrap) {
		if start > 0 {
			b.startTimeout = start
		}
		if stop > 0 {
			b.stopTimeout = stop
		}
	}
}

// WithOptions 追加额外的 fx 选项（测试中用于替换依赖或取出组件）
func WithOptions(opts ...fx.Option) BootstrapOption {
	return func(b *Bootstrap) {
		b.extra = append(b.extra, opts...)
	}
}
