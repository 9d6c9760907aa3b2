// Package storage 提供控制面的持久化存储
//
// 基于 BadgerDB，支持磁盘与内存两种模式：
//
//	┌──────────────────────────────────────────┐
//	│  command.Store | registry.Registry       │
//	└──────────────────────────────────────────┘
//	                     │
//	                     ▼
//	┌──────────────────────────────────────────┐
//	│  kv.Store     带前缀隔离的 KV + 事务      │
//	│  engine/badger BadgerDB 实现              │
//	└──────────────────────────────────────────┘
//
// 键空间见 kv 包文档。
package storage
