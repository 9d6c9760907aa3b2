// Package eventbus 实现进程内按主题分发的事件总线
//
// 总线以类型参数区分事件类型，以字符串主题区分订阅范围。
// 控制面用它把指令状态变更推送给 WebSocket 订阅者，主题为设备 ID。
//
//	bus := eventbus.New[StatusEvent]()
//
//	sub, _ := bus.Subscribe("pet001", eventbus.BufSize(32))
//	defer sub.Close()
//	go func() {
//	    for evt := range sub.Out() {
//	        // 处理事件
//	    }
//	}()
//
//	bus.Publish("pet001", StatusEvent{...})
//
// 发布从不阻塞：订阅者缓冲区满时丢弃该事件并计数，
// 每丢弃 100 个事件输出一次慢消费者警告。
package eventbus
