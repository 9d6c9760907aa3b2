// Package kv 提供带前缀隔离的 KV 存储
//
// Store 在存储引擎之上为所有键自动添加前缀，各组件使用不同的前缀
// 隔离数据。控制面的键空间：
//   - c/  指令记录，c/<reqId>
//   - cs/ SENT 状态指令索引，cs/<reqId>
//   - d/  设备，d/<deviceId>
//   - p/  在线状态，p/<deviceId>
//   - t/  最新遥测，t/<deviceId>
//   - e/  事件（带 TTL），e/<deviceId>/<纳秒时间戳>/<序号>
//
// 使用示例：
//
//	commands := kv.New(eng, []byte("c/"))
//	err := commands.PutJSON([]byte(reqID), cmd)
package kv

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.Engine
	prefix []byte
}

// New 创建 Store
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{engine: eng, prefix: prefix}
}

// prefixKey 为键添加前缀
func (s *Store) prefixKey(key []byte) []byte {
	if len(s.prefix) == 0 {
		return key
	}
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

// stripPrefix 从键中移除前缀
func (s *Store) stripPrefix(key []byte) []byte {
	if len(s.prefix) == 0 || len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// GetJSON 获取并反序列化 JSON 值
func (s *Store) GetJSON(key []byte, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// PutJSONWithTTL 序列化并存储带过期时间的 JSON 值
func (s *Store) PutJSONWithTTL(key []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.engine.PutWithTTL(s.prefixKey(key), data, ttl)
}

// PrefixScan 遍历 subPrefix 下的键值，传给 fn 的键已去掉 Store 前缀
//
// fn 返回 false 时停止遍历。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	return s.engine.View(func(txn engine.Txn) error {
		return scan(txn, s, subPrefix, fn)
	})
}

// Update 在一个读写事务中执行 fn
//
// 发生提交冲突时 fn 会被重新执行，fn 不能有事务外的副作用。
func (s *Store) Update(fn func(tx *Transaction) error) error {
	return s.engine.Update(func(txn engine.Txn) error {
		return fn(&Transaction{txn: txn, store: s})
	})
}

// View 在一个只读事务中执行 fn
func (s *Store) View(fn func(tx *Transaction) error) error {
	return s.engine.View(func(txn engine.Txn) error {
		return fn(&Transaction{txn: txn, store: s})
	})
}

// SubStore 返回追加了 subPrefix 的子存储
func (s *Store) SubStore(subPrefix []byte) *Store {
	return New(s.engine, s.prefixKey(subPrefix))
}

// Prefix 返回存储前缀
func (s *Store) Prefix() []byte {
	return s.prefix
}

// Transaction 带前缀的事务
type Transaction struct {
	txn   engine.Txn
	store *Store
}

// Get 在事务中读取
func (t *Transaction) Get(key []byte) ([]byte, error) {
	return t.txn.Get(t.store.prefixKey(key))
}

// Set 在事务中写入
func (t *Transaction) Set(key, value []byte) error {
	return t.txn.Set(t.store.prefixKey(key), value)
}

// Delete 在事务中删除
func (t *Transaction) Delete(key []byte) error {
	return t.txn.Delete(t.store.prefixKey(key))
}

// GetJSON 在事务中读取 JSON 值
func (t *Transaction) GetJSON(key []byte, v any) error {
	data, err := t.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON 在事务中写入 JSON 值
func (t *Transaction) SetJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Set(key, data)
}

// PrefixScan 在事务中遍历
func (t *Transaction) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	return scan(t.txn, t.store, subPrefix, fn)
}

// stopScan 内部用于提前结束遍历
type stopScan struct{}

func (stopScan) Error() string { return "kv: stop scan" }

func scan(txn engine.Txn, s *Store, subPrefix []byte, fn func(key, value []byte) bool) error {
	err := txn.Scan(s.prefixKey(subPrefix), func(key, value []byte) error {
		if !fn(s.stripPrefix(key), value) {
			return stopScan{}
		}
		return nil
	})
	if errors.As(err, new(stopScan)) {
		return nil
	}
	return err
}
