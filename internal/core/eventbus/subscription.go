package eventbus

import "sync"

// Subscription 订阅
type Subscription[T any] struct {
	bus       *Bus[T]
	topic     string
	out       chan T
	closeOnce sync.Once
}

// Out 返回事件通道，订阅或总线关闭后通道关闭
func (s *Subscription[T]) Out() <-chan T {
	return s.out
}

// Topic 返回订阅主题
func (s *Subscription[T]) Topic() string {
	return s.topic
}

// Close 取消订阅，可并发多次调用
//
// 先从总线移除再关闭通道，发布方持有读锁发送，不会写入已关闭的通道。
func (s *Subscription[T]) Close() error {
	s.bus.removeSub(s)
	s.closeChan()
	return nil
}

func (s *Subscription[T]) closeChan() {
	s.closeOnce.Do(func() {
		close(s.out)
	})
}
