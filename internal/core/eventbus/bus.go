package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

var logger = log.Logger("core/eventbus")

var (
	// ErrClosed 事件总线已关闭
	ErrClosed = errors.New("eventbus: closed")
	// ErrEmptyTopic 主题为空
	ErrEmptyTopic = errors.New("eventbus: empty topic")
)

// defaultBuffer 默认订阅缓冲区大小
const defaultBuffer = 16

// Bus 事件总线
type Bus[T any] struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription[T]
	closed bool

	// dropCount 丢弃事件计数（用于慢消费者警告）
	dropCount atomic.Int64
}

// New 创建事件总线
func New[T any]() *Bus[T] {
	return &Bus[T]{topics: make(map[string][]*Subscription[T])}
}

// Subscribe 订阅主题
func (b *Bus[T]) Subscribe(topic string, opts ...SubscriptionOpt) (*Subscription[T], error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	settings := &subscriptionSettings{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(settings)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription[T]{
		bus:   b,
		topic: topic,
		out:   make(chan T, settings.buffer),
	}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub, nil
}

// Publish 向主题的所有订阅者发布事件，返回成功投递的订阅者数量
func (b *Bus[T]) Publish(topic string, event T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.topics[topic] {
		select {
		case sub.out <- event:
			delivered++
		default:
			dropped := b.dropCount.Add(1)
			if dropped%100 == 1 {
				logger.Warn("慢消费者检测",
					"topic", topic,
					"dropped", dropped,
					"reason", "subscriber buffer full")
			}
		}
	}
	return delivered
}

// Subscribers 返回主题当前订阅者数量
func (b *Bus[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Dropped 返回累计丢弃事件数
func (b *Bus[T]) Dropped() int64 {
	return b.dropCount.Load()
}

// Close 关闭总线并关闭所有订阅的通道
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string][]*Subscription[T])
	b.mu.Unlock()

	for _, subs := range topics {
		for _, sub := range subs {
			sub.closeChan()
		}
	}
}

// removeSub 移除订阅
func (b *Bus[T]) removeSub(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	} else {
		b.topics[sub.topic] = subs
	}
}
