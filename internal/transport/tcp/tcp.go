// Package tcp 联网设备的 TCP 链路，帧格式与串口一致。
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

const (
	DefaultPort           = 4403
	DefaultConnectTimeout = 10 * time.Second
	readBufSize           = 4096
)

// Transport TCP 链路
type Transport struct {
	host    string
	port    int
	timeout time.Duration
	dialer  func(ctx context.Context, network, addr string) (net.Conn, error)
	logger  *zap.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      net.Conn
	done      chan struct{}
	wg        sync.WaitGroup
	connected atomic.Bool

	handlers transport.HandlerBox
}

type Option func(*Transport)

func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithDialer 替换拨号函数（测试用）
func WithDialer(d func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
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

// New 创建 TCP 链路；port<=0 时使用 4403
func New(host string, port int, opts ...Option) *Transport {
	if port <= 0 {
		port = DefaultPort
	}
	t := &Transport{
		host:    host,
		port:    port,
		timeout: DefaultConnectTimeout,
		logger:  zap.NewNop(),
	}
	t.dialer = (&net.Dialer{KeepAlive: 30 * time.Second}).DialContext
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Kind() transport.Kind             { return transport.KindTCP }
func (t *Transport) Addr() string                     { return net.JoinHostPort(t.host, strconv.Itoa(t.port)) }
func (t *Transport) IsConnected() bool                { return t.connected.Load() }
func (t *Transport) SetHandlers(h transport.Handlers) { t.handlers.Store(h) }

// Connect 在超时内完成拨号
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conn, err := t.dialer(dctx, "tcp", t.Addr())
	if err != nil {
		return fmt.Errorf("tcp: dial %s: %w", t.Addr(), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	t.conn = conn
	t.done = make(chan struct{})
	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop(conn, t.done)

	t.logger.Info("tcp link connected", zap.String("addr", t.Addr()))
	t.handlers.Log("TCP: connected to " + t.Addr())
	return nil
}

func (t *Transport) readLoop(conn net.Conn, done chan struct{}) {
	defer t.wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.handlers.Bytes(chunk)
		}
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if !errors.Is(err, net.ErrClosed) {
				t.logger.Warn("tcp read failed", zap.String("addr", t.Addr()), zap.Error(err))
			}
			t.dropped(conn, err)
			return
		}
	}
}

func (t *Transport) dropped(conn net.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.connected.Store(false)
	close(t.done)
	_ = conn.Close()
	t.mu.Unlock()

	t.handlers.Log(fmt.Sprintf("TCP: link lost to %s: %v", t.Addr(), cause))
	t.handlers.Dropped(cause)
}

// Send 写入完整字节序列，ctx 的截止时间作用于本次写
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.connected.Load() {
		return fmt.Errorf("tcp %s: %w", t.Addr(), transport.ErrNotConnected)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("tcp: write %s: %w", t.Addr(), err)
	}
	return nil
}

// Disconnect 关闭连接，重复调用安全
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.conn = nil
	t.connected.Store(false)
	close(t.done)
	_ = conn.Close()
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("tcp link closed", zap.String("addr", t.Addr()))
	return nil
}
