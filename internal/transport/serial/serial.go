// Package serial 基于 go.bug.st/serial 的串口链路。
package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

const (
	DefaultBaud = 115200
	readBufSize = 4096
	wakeLen     = 32
)

// Port 串口能力子集，serial.Port 满足该接口
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Opener 打开串口（测试可替换）
type Opener func(name string, mode *serial.Mode) (Port, error)

func openPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Transport 串口链路
type Transport struct {
	name   string
	baud   int
	wake   bool
	open   Opener
	logger *zap.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	port      Port
	done      chan struct{}
	wg        sync.WaitGroup
	connected atomic.Bool

	handlers transport.HandlerBox
}

type Option func(*Transport)

func WithBaud(baud int) Option {
	return func(t *Transport) {
		if baud > 0 {
			t.baud = baud
		}
	}
}

// WithWake 连接后发送唤醒序列，使设备控制台切换到 protobuf 模式
func WithWake(on bool) Option { return func(t *Transport) { t.wake = on } }

func WithOpener(o Opener) Option {
	return func(t *Transport) {
		if o != nil {
			t.open = o
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New 创建串口链路（未连接）
func New(name string, opts ...Option) *Transport {
	t := &Transport{
		name:   name,
		baud:   DefaultBaud,
		wake:   true,
		open:   openPort,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Kind() transport.Kind             { return transport.KindSerial }
func (t *Transport) Name() string                     { return t.name }
func (t *Transport) IsConnected() bool                { return t.connected.Load() }
func (t *Transport) SetHandlers(h transport.Handlers) { t.handlers.Store(h) }

// Connect 以 8N1 打开串口并拉高 DTR/RTS
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := t.open(t.name, mode)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", t.name, err)
	}
	if err := p.SetDTR(true); err != nil {
		_ = p.Close()
		return fmt.Errorf("serial: set DTR on %s: %w", t.name, err)
	}
	if err := p.SetRTS(true); err != nil {
		_ = p.Close()
		return fmt.Errorf("serial: set RTS on %s: %w", t.name, err)
	}
	if t.wake {
		if _, err := p.Write(bytes.Repeat([]byte{0xC3}, wakeLen)); err != nil {
			_ = p.Close()
			return fmt.Errorf("serial: wake %s: %w", t.name, err)
		}
	}

	t.port = p
	t.done = make(chan struct{})
	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop(p, t.done)

	t.logger.Info("serial port opened", zap.String("port", t.name), zap.Int("baud", t.baud))
	t.handlers.Log(fmt.Sprintf("Serial: connected to %s @ %d", t.name, t.baud))
	return nil
}

// readLoop 每次读取到的字节作为一个分片上报
func (t *Transport) readLoop(p Port, done chan struct{}) {
	defer t.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.handlers.Bytes(chunk)
		}
		if err != nil {
			select {
			case <-done:
				// 主动断开
				return
			default:
			}
			t.logger.Warn("serial read failed", zap.String("port", t.name), zap.Error(err))
			t.dropped(p, err)
			return
		}
	}
}

// dropped 读失败时释放串口并通知上层
func (t *Transport) dropped(p Port, cause error) {
	t.mu.Lock()
	if t.port != p {
		t.mu.Unlock()
		return
	}
	t.port = nil
	t.connected.Store(false)
	close(t.done)
	_ = p.Close()
	t.mu.Unlock()

	t.handlers.Log(fmt.Sprintf("Serial: link lost on %s: %v", t.name, cause))
	t.handlers.Dropped(cause)
}

// Send 写入完整字节序列
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	p := t.port
	t.mu.Unlock()
	if p == nil || !t.connected.Load() {
		return fmt.Errorf("serial %s: %w", t.name, transport.ErrNotConnected)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for len(data) > 0 {
		n, err := p.Write(data)
		if err != nil {
			return fmt.Errorf("serial: write %s: %w", t.name, err)
		}
		data = data[n:]
	}
	return nil
}

// Disconnect 关闭串口，重复调用安全
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	p := t.port
	if p == nil {
		t.mu.Unlock()
		return nil
	}
	t.port = nil
	t.connected.Store(false)
	close(t.done)
	err := p.Close()
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("serial port closed", zap.String("port", t.name))
	if err != nil {
		t.logger.Debug("serial close error ignored", zap.Error(err))
	}
	return nil
}
