// Package transport 定义设备链路的统一契约，具体实现见 serial、tcp、ble 子包。
package transport

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
)

// Kind 链路类型
type Kind string

const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
	KindBLE    Kind = "ble"
)

// NotConnectedText 未连接错误的消息片段，重连逻辑按此片段识别
const NotConnectedText = "Not connected"

// ErrNotConnected 链路未连接时 Send 返回的错误
var ErrNotConnected = errors.New(NotConnectedText)

// Transport 链路契约
type Transport interface {
	Kind() Kind
	Connect(ctx context.Context) error
	// Disconnect 幂等；对从未连接的实例是空操作
	Disconnect() error
	// Send 未连接时返回 ErrNotConnected
	Send(ctx context.Context, data []byte) error
	IsConnected() bool
	SetHandlers(h Handlers)
}

// Handlers 链路事件回调，均可能在链路自身的后台 goroutine 中触发
type Handlers struct {
	OnBytes      func([]byte)
	OnLog        func(string)
	OnDisconnect func(error)
}

// HandlerBox 并发安全地保存 Handlers
type HandlerBox struct {
	v atomic.Value
}

func (b *HandlerBox) Store(h Handlers) { b.v.Store(h) }

func (b *HandlerBox) Load() Handlers {
	h, _ := b.v.Load().(Handlers)
	return h
}

func (b *HandlerBox) Bytes(p []byte) {
	if h := b.Load(); h.OnBytes != nil {
		h.OnBytes(p)
	}
}

func (b *HandlerBox) Log(line string) {
	if h := b.Load(); h.OnLog != nil {
		h.OnLog(line)
	}
}

func (b *HandlerBox) Dropped(err error) {
	if h := b.Load(); h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

// IsNotConnected 沿错误链（含 errors.Join）查找未连接错误，兼容只保留了消息文本的包装
func IsNotConnected(err error) bool {
	stack := []error{err}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e == nil {
			continue
		}
		if e == ErrNotConnected || strings.Contains(e.Error(), NotConnectedText) {
			return true
		}
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			stack = append(stack, x.Unwrap()...)
		case interface{ Unwrap() error }:
			stack = append(stack, x.Unwrap())
		}
	}
	return false
}
