package command

import "errors"

// 指令存储错误定义
var (
	// ErrNotFound 指令不存在
	ErrNotFound = errors.New("command: not found")

	// ErrExists reqId 已存在
	ErrExists = errors.New("command: reqId already exists")
)
