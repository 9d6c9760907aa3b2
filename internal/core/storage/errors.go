package storage

import "github.com/deskpet/pet-gateway/internal/core/storage/engine"

// 重导出 engine 包的错误，方便使用方直接使用
var (
	// ErrNotFound 键不存在
	ErrNotFound = engine.ErrNotFound

	// ErrClosed 引擎已关闭
	ErrClosed = engine.ErrClosed

	// ErrTransactionConflict 事务冲突
	ErrTransactionConflict = engine.ErrTransactionConflict

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = engine.ErrInvalidConfig
)

// IsNotFound 检查是否为 key not found 错误
var IsNotFound = engine.IsNotFound
