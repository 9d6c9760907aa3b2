package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/deskpet/pet-gateway/internal/core/storage/engine"
	"github.com/deskpet/pet-gateway/pkg/lib/log"
)

// logger 是 badger 存储引擎的日志记录器
var logger = log.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	// conflicts 提交冲突次数，供测试与诊断
	conflicts atomic.Int64

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// New 创建 BadgerDB 存储引擎
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:       db,
		config:   cfg,
		gcCtx:    ctx,
		gcCancel: cancel,
	}, nil
}

// badgerLogger 将 badger 日志桥接到组件日志，Info 以下一律降为 Debug
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

// Start 启动值日志回收
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.GCInterval > 0 && !e.config.InMemory {
		e.startGC()
	}
	return nil
}

func (e *Engine) startGC() {
	e.gcWg.Add(1)
	go func() {
		defer e.gcWg.Done()

		ticker := time.NewTicker(e.config.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.gcCtx.Done():
				return
			case <-ticker.C:
				e.runGC()
			}
		}
	}()
}

// runGC 反复回收直到没有可回收的文件
func (e *Engine) runGC() {
	for !e.closed.Load() {
		if err := e.db.RunValueLogGC(e.config.GCDiscardRatio); err != nil {
			return
		}
	}
}

// Get 读取 key
func (e *Engine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.View(func(txn engine.Txn) error {
		v, err := txn.Get(key)
		value = v
		return err
	})
	return value, err
}

// Put 写入 key
func (e *Engine) Put(key, value []byte) error {
	return e.Update(func(txn engine.Txn) error {
		return txn.Set(key, value)
	})
}

// PutWithTTL 写入带过期时间的 key
func (e *Engine) PutWithTTL(key, value []byte, ttl time.Duration) error {
	return e.Update(func(txn engine.Txn) error {
		return txn.SetWithTTL(key, value, ttl)
	})
}

// Delete 删除 key
func (e *Engine) Delete(key []byte) error {
	return e.Update(func(txn engine.Txn) error {
		return txn.Delete(key)
	})
}

// View 在只读事务中执行 fn
func (e *Engine) View(fn func(txn engine.Txn) error) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return convertError(e.db.View(func(txn *badger.Txn) error {
		return fn(&Transaction{txn: txn})
	}))
}

// Update 在读写事务中执行 fn，提交冲突时重新执行
func (e *Engine) Update(fn func(txn engine.Txn) error) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}

	var err error
	for attempt := 0; attempt < e.config.MaxConflictRetries; attempt++ {
		err = e.db.Update(func(txn *badger.Txn) error {
			return fn(&Transaction{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return convertError(err)
		}
		e.conflicts.Add(1)
		logger.Debug("事务冲突，重试", "attempt", attempt+1)
	}
	return convertError(err)
}

// Conflicts 返回累计提交冲突次数
func (e *Engine) Conflicts() int64 {
	return e.conflicts.Load()
}

// Close 关闭引擎
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.gcCancel()
	e.gcWg.Wait()
	return e.db.Close()
}

// convertError 转换 BadgerDB 错误到引擎错误
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrTxnTooBig):
		return engine.ErrTransactionTooLarge
	case errors.Is(err, badger.ErrConflict):
		return engine.ErrTransactionConflict
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}

// 编译时检查接口实现
var _ engine.Engine = (*Engine)(nil)
