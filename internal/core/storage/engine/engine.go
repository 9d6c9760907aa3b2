// Package engine 定义存储引擎抽象
//
// 上层通过 kv.Store 使用引擎；目前唯一的实现是 engine/badger。
package engine

import "time"

// Engine 键值存储引擎
type Engine interface {
	// Start 启动后台任务（值日志回收等）
	Start() error

	// Get 读取 key，不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入 key
	Put(key, value []byte) error

	// PutWithTTL 写入带过期时间的 key
	PutWithTTL(key, value []byte, ttl time.Duration) error

	// Delete 删除 key，不存在时不报错
	Delete(key []byte) error

	// View 在只读事务中执行 fn
	View(fn func(txn Txn) error) error

	// Update 在读写事务中执行 fn
	//
	// 提交时发生冲突会重新执行 fn，fn 必须可重入。
	Update(fn func(txn Txn) error) error

	// Close 关闭引擎
	Close() error
}

// Txn 事务内操作
type Txn interface {
	// Get 读取 key，不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Set 写入 key
	Set(key, value []byte) error

	// SetWithTTL 写入带过期时间的 key
	SetWithTTL(key, value []byte, ttl time.Duration) error

	// Delete 删除 key
	Delete(key []byte) error

	// Scan 按字典序遍历 prefix 下的所有 key，fn 返回 error 时中止
	Scan(prefix []byte, fn func(key, value []byte) error) error
}
