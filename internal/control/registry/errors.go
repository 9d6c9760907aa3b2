package registry

import "errors"

// 注册表错误定义
var (
	// ErrDeviceNotFound 设备不存在
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrInvalidSecret 设备密钥错误
	ErrInvalidSecret = errors.New("registry: invalid secret")

	// ErrDeviceExists 设备已存在
	ErrDeviceExists = errors.New("registry: device already exists")

	// ErrInvalidDevice 设备 ID 或密钥为空
	ErrInvalidDevice = errors.New("registry: device id and secret are required")
)
