package ble

import (
	"context"
	"errors"
	"strings"
)

// GATT 抽象，真实实现见 tinygo.go，测试使用内存假设备

// Adapter 按设备标识（地址或广播名）建立连接；onDrop 在链路被动断开时回调
type Adapter interface {
	Connect(ctx context.Context, deviceID string, onDrop func(error)) (Device, error)
}

type Device interface {
	Service(ctx context.Context, uuid string) (Service, error)
	// Pair 触发系统配对，后端不支持时返回 ErrPairingUnsupported
	Pair(ctx context.Context) error
	Disconnect() error
}

type Service interface {
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

type Characteristic interface {
	UUID() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	WriteWithoutResponse(ctx context.Context, p []byte) error
	Subscribe(fn func([]byte)) error
	Unsubscribe() error
}

var (
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrDeviceNotFound         = errors.New("ble: device not found")
	ErrPermissionDenied       = errors.New("ble: permission denied")
	ErrPairingUnsupported     = errors.New("ble: pairing not supported by backend")
)

// IsPermissionError 判断订阅失败是否由系统权限/未配对引起
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"permission", "not permitted", "access denied", "insufficient authentication", "insufficient encryption", "not authorized"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
