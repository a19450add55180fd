// Package admin 将单向的管理报文流转换为可等待的请求/应答与 begin/commit 编辑事务。
package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
)

const DefaultTimeout = 6 * time.Second

var ErrTimeout = errors.New("admin: timed out waiting for response")

// Sender 管理报文出口（radio.Session 实现）
type Sender interface {
	SendAdminMessage(ctx context.Context, node uint32, msg *meshpb.AdminMessage, wantResponse bool) error
}

type Observer interface {
	Record(operation, status string)
}

type ObserverFunc func(operation, status string)

func (f ObserverFunc) Record(operation, status string) {
	if f != nil {
		f(operation, status)
	}
}

func NopObserver() Observer {
	return ObserverFunc(func(string, string) {})
}

// exchange 等待中的应答；done 容量为 1，至多完成一次
type exchange struct {
	node  uint32
	match func(*meshpb.AdminMessage) bool
	done  chan *meshpb.AdminMessage
}

// Client 每进程一个实例，由所有调用方共享
type Client struct {
	sender    Sender
	logger    *zap.Logger
	observer  Observer
	timeout   time.Duration
	serialize bool
	onSaved   func(node uint32)

	mu        sync.Mutex
	passkeys  map[uint32][]byte
	exchanges []*exchange
	saveLocks map[uint32]chan struct{}
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSerializedSaves 同一节点的保存事务互斥执行
func WithSerializedSaves(on bool) Option { return func(c *Client) { c.serialize = on } }

// WithSaveHook 每次保存事务完整发出后回调
func WithSaveHook(fn func(node uint32)) Option { return func(c *Client) { c.onSaved = fn } }

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

func NewClient(sender Sender, opts ...Option) *Client {
	c := &Client{
		sender:    sender,
		logger:    zap.NewNop(),
		observer:  NopObserver(),
		timeout:   DefaultTimeout,
		serialize: true,
		passkeys:  make(map[uint32][]byte),
		saveLocks: make(map[uint32]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublishIncomingAdminMessage 入站管理消息的唯一入口：缓存 passkey，
// 按注册顺序匹配该节点的等待者，第一个接受者消费该消息
func (c *Client) PublishIncomingAdminMessage(node uint32, msg *meshpb.AdminMessage) {
	if msg == nil {
		return
	}
	c.mu.Lock()
	if len(msg.SessionPasskey) > 0 && !bytes.Equal(c.passkeys[node], msg.SessionPasskey) {
		c.passkeys[node] = append([]byte(nil), msg.SessionPasskey...)
		c.observer.Record("passkey", "cached")
	}
	var hit *exchange
	for i, ex := range c.exchanges {
		if ex.node == node && ex.match(msg) {
			hit = ex
			c.exchanges = append(c.exchanges[:i:i], c.exchanges[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if hit == nil {
		c.logger.Debug("unsolicited admin message", zap.Uint32("node", node), zap.String("variant", msg.Variant()))
		return
	}
	hit.done <- msg
}

// Passkey 已缓存的会话 passkey
func (c *Client) Passkey(node uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pk, ok := c.passkeys[node]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), pk...), true
}

// Pending 等待中的应答数
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}

func (c *Client) register(node uint32, match func(*meshpb.AdminMessage) bool) *exchange {
	ex := &exchange{node: node, match: match, done: make(chan *meshpb.AdminMessage, 1)}
	c.mu.Lock()
	c.exchanges = append(c.exchanges, ex)
	c.mu.Unlock()
	return ex
}

func (c *Client) unregister(ex *exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.exchanges {
		if e == ex {
			c.exchanges = append(c.exchanges[:i:i], c.exchanges[i+1:]...)
			return
		}
	}
}

// send 未带 passkey 的请求自动附加缓存值
func (c *Client) send(ctx context.Context, node uint32, msg *meshpb.AdminMessage, wantResponse bool) error {
	out := msg
	if len(msg.SessionPasskey) == 0 {
		if pk, ok := c.Passkey(node); ok {
			cp := *msg
			cp.SessionPasskey = pk
			out = &cp
		}
	}
	return c.sender.SendAdminMessage(ctx, node, out, wantResponse)
}

// request 先登记再发送，避免应答先于登记到达
func (c *Client) request(ctx context.Context, node uint32, req *meshpb.AdminMessage, match func(*meshpb.AdminMessage) bool) (*meshpb.AdminMessage, error) {
	variant := req.Variant()
	ex := c.register(node, match)
	defer c.unregister(ex)

	if err := c.send(ctx, node, req, true); err != nil {
		c.observer.Record("admin_get", "error")
		return nil, fmt.Errorf("admin: send %s to %d: %w", variant, node, err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case m := <-ex.done:
		c.observer.Record("admin_get", "ok")
		return m, nil
	case <-tctx.Done():
	}

	// 截止与到达同时发生时以到达为准
	select {
	case m := <-ex.done:
		c.observer.Record("admin_get", "ok")
		return m, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		c.observer.Record("admin_get", "canceled")
		return nil, err
	}
	c.observer.Record("admin_get", "timeout")
	c.logger.Warn("admin request timed out",
		zap.Uint32("node", node),
		zap.String("variant", variant),
		zap.Duration("timeout", c.timeout))
	return nil, fmt.Errorf("%w: %s from node %d after %s", ErrTimeout, variant, node, c.timeout)
}

func (c *Client) GetConfig(ctx context.Context, node uint32, typ meshpb.ConfigType) (*meshpb.Config, error) {
	t := typ
	resp, err := c.request(ctx, node, &meshpb.AdminMessage{GetConfigRequest: &t}, func(m *meshpb.AdminMessage) bool {
		return m.GetConfigResponse != nil && m.GetConfigResponse.Type == typ
	})
	if err != nil {
		return nil, err
	}
	return resp.GetConfigResponse, nil
}

func (c *Client) GetModuleConfig(ctx context.Context, node uint32, typ meshpb.ModuleConfigType) (*meshpb.ModuleConfig, error) {
	t := typ
	resp, err := c.request(ctx, node, &meshpb.AdminMessage{GetModuleConfigRequest: &t}, func(m *meshpb.AdminMessage) bool {
		return m.GetModuleConfigResponse != nil && m.GetModuleConfigResponse.Type == typ
	})
	if err != nil {
		return nil, err
	}
	return resp.GetModuleConfigResponse, nil
}

// GetChannel 请求中的索引按设备约定加 1
func (c *Client) GetChannel(ctx context.Context, node uint32, index int32) (*meshpb.Channel, error) {
	resp, err := c.request(ctx, node, &meshpb.AdminMessage{GetChannelRequest: uint32(index) + 1}, func(m *meshpb.AdminMessage) bool {
		return m.GetChannelResponse != nil && m.GetChannelResponse.Index == index
	})
	if err != nil {
		return nil, err
	}
	return resp.GetChannelResponse, nil
}

// GetChannels 逐个顺序请求；单个信道超时以禁用信道代替
func (c *Client) GetChannels(ctx context.Context, node uint32, max int) ([]*meshpb.Channel, error) {
	out := make([]*meshpb.Channel, 0, max)
	for i := 0; i < max; i++ {
		ch, err := c.GetChannel(ctx, node, int32(i))
		if errors.Is(err, ErrTimeout) {
			c.logger.Info("channel request timed out, treating as disabled", zap.Uint32("node", node), zap.Int("index", i))
			ch = meshpb.DisabledChannel(int32(i))
		} else if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func (c *Client) GetOwner(ctx context.Context, node uint32) (*meshpb.User, error) {
	resp, err := c.request(ctx, node, &meshpb.AdminMessage{GetOwnerRequest: true}, func(m *meshpb.AdminMessage) bool {
		return m.GetOwnerResponse != nil
	})
	if err != nil {
		return nil, err
	}
	return resp.GetOwnerResponse, nil
}

func (c *Client) GetCannedMessages(ctx context.Context, node uint32) (string, error) {
	resp, err := c.request(ctx, node, &meshpb.AdminMessage{GetCannedMessageRequest: true}, func(m *meshpb.AdminMessage) bool {
		return m.GetCannedMessageResponse != nil
	})
	if err != nil {
		return "", err
	}
	return *resp.GetCannedMessageResponse, nil
}

func (c *Client) GetRingtone(ctx context.Context, node uint32) (string, error) {
	resp, err := c.request(ctx, node, &meshpb.AdminMessage{GetRingtoneRequest: true}, func(m *meshpb.AdminMessage) bool {
		return m.GetRingtoneResponse != nil
	})
	if err != nil {
		return "", err
	}
	return *resp.GetRingtoneResponse, nil
}
