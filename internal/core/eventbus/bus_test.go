package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusEvent struct {
	ReqID  string
	Status string
}

// TestBus_PublishToTopic 测试按主题投递
func TestBus_PublishToTopic(t *testing.T) {
	bus := New[statusEvent]()
	defer bus.Close()

	a, err := bus.Subscribe("pet001")
	require.NoError(t, err)
	b, err := bus.Subscribe("pet002")
	require.NoError(t, err)

	assert.Equal(t, 1, bus.Publish("pet001", statusEvent{ReqID: "r1", Status: "SENT"}))

	select {
	case evt := <-a.Out():
		assert.Equal(t, "r1", evt.ReqID)
	case <-time.After(time.Second):
		t.Fatal("未收到事件")
	}
	select {
	case <-b.Out():
		t.Fatal("其他主题不应收到事件")
	default:
	}

	t.Log("✅ 事件按主题投递")
}

// TestBus_SlowConsumerDropped 测试缓冲区满时丢弃
func TestBus_SlowConsumerDropped(t *testing.T) {
	bus := New[statusEvent]()
	defer bus.Close()

	sub, err := bus.Subscribe("pet001", BufSize(2))
	require.NoError(t, err)

	delivered := 0
	for range 5 {
		delivered += bus.Publish("pet001", statusEvent{})
	}
	assert.Equal(t, 2, delivered)
	assert.Equal(t, int64(3), bus.Dropped())
	assert.Len(t, sub.Out(), 2)
}

// TestSubscription_Close 测试取消订阅
func TestSubscription_Close(t *testing.T) {
	bus := New[statusEvent]()
	sub, err := bus.Subscribe("pet001")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("pet001"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, bus.Subscribers("pet001"))
	assert.Equal(t, 0, bus.Publish("pet001", statusEvent{}))

	_, ok := <-sub.Out()
	assert.False(t, ok, "通道已关闭")
}

// TestBus_Close 测试关闭总线
func TestBus_Close(t *testing.T) {
	bus := New[statusEvent]()
	sub, err := bus.Subscribe("pet001")
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, ok := <-sub.Out()
	assert.False(t, ok)
	require.NoError(t, sub.Close())

	_, err = bus.Subscribe("pet001")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = New[statusEvent]().Subscribe("")
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

// TestBus_ConcurrentPublishAndClose 测试并发发布与取消订阅
func TestBus_ConcurrentPublishAndClose(t *testing.T) {
	bus := New[int]()
	defer bus.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		sub, err := bus.Subscribe("t")
		require.NoError(t, err)
		go func() {
			defer wg.Done()
			for j := range 100 {
				bus.Publish("t", i*100+j)
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			_ = sub.Close()
		}()
	}
	wg.Wait()

	t.Log("✅ 并发发布与取消订阅无竞争")
}
