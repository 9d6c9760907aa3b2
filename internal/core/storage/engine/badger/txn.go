package badger

import (
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
)

// Transaction BadgerDB 事务封装
type Transaction struct {
	txn *badger.Txn
}

// Get 在事务中读取值
func (t *Transaction) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, convertError(err)
	}
	return item.ValueCopy(nil)
}

// Set 在事务中设置值
func (t *Transaction) Set(key, value []byte) error {
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.Set(key, value))
}

// SetWithTTL 在事务中设置带过期时间的值
func (t *Transaction) SetWithTTL(key, value []byte, ttl time.Duration) error {
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.SetEntry(badger.NewEntry(key, value).WithTTL(ttl)))
}

// Delete 在事务中删除键
func (t *Transaction) Delete(key []byte) error {
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.Delete(key))
}

// Scan 遍历 prefix 下的键值
func (t *Transaction) Scan(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return convertError(err)
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

var _ engine.Txn = (*Transaction)(nil)
