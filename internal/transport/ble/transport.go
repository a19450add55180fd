// Package ble 基于 GATT 的设备链路。
//
// 连接后按以下顺序选择投递方式：
//  1. 订阅 from-device 通知，失败则订阅 mailbox 计数通知（通知触发 drain）；
//  2. 若失败原因为权限问题，配对一次后重走第 1 步；
//  3. 仍失败则进入轮询：每 250ms 读取 mailbox 计数，变化或每第 N 次强制 drain。
//
// 所有入站负载统一封装为 4 字节帧后上报。
package ble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/protocol/wire"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultForceEvery   = 8
	DefaultMaxDrain     = 64
)

// UUIDs GATT 标识
type UUIDs struct {
	Service         string
	ToRadio         string
	FromRadio       string
	FromRadioLegacy string
	FromNum         string
}

// DefaultUUIDs 设备固件使用的 GATT 标识
var DefaultUUIDs = UUIDs{
	Service:         "6ba1b218-15a8-461f-9fa8-5dcae273eafd",
	ToRadio:         "f75c76d2-129e-4dad-a1dd-7866124401e7",
	FromRadio:       "2c55e69e-4993-11ed-b878-0242ac120002",
	FromRadioLegacy: "8ba2bcc2-ee02-4a55-a531-c525c5e454d5",
	FromNum:         "ed9da18c-a800-4f66-a670-aa7547e34453",
}

// State 链路状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateNotifySubscribed
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNotifySubscribed:
		return "notify"
	case StatePolling:
		return "polling"
	default:
		return "disconnected"
	}
}

// link 单次连接的 GATT 句柄
type link struct {
	device     Device
	toDev      Characteristic
	fromDev    Characteristic
	mailbox    Characteristic // 可选
	subscribed Characteristic
	gen        uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Transport BLE 链路
type Transport struct {
	deviceID     string
	adapter      Adapter
	uuids        UUIDs
	pollInterval time.Duration
	forceEvery   int
	maxDrain     int
	onDrain      func(reads int)
	logger       *zap.Logger

	mu      sync.Mutex
	drainMu sync.Mutex
	link    *link

	state         atomic.Int32
	connected     atomic.Bool
	disconnecting atomic.Bool
	gen           atomic.Uint64

	// mailbox 计数仅在单次连接内有效
	lastMailbox atomic.Uint32
	haveMailbox atomic.Bool

	kick     chan struct{}
	handlers transport.HandlerBox
}

type Option func(*Transport)

func WithUUIDs(u UUIDs) Option { return func(t *Transport) { t.uuids = u } }

func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithForceEvery 轮询模式下每 n 次 tick 强制 drain 一次
func WithForceEvery(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.forceEvery = n
		}
	}
}

func WithMaxDrain(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxDrain = n
		}
	}
}

// WithDrainObserver 每次 drain 结束回调读取次数
func WithDrainObserver(fn func(reads int)) Option { return func(t *Transport) { t.onDrain = fn } }

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New 创建 BLE 链路（未连接）
func New(adapter Adapter, deviceID string, opts ...Option) *Transport {
	t := &Transport{
		deviceID:     deviceID,
		adapter:      adapter,
		uuids:        DefaultUUIDs,
		pollInterval: DefaultPollInterval,
		forceEvery:   DefaultForceEvery,
		maxDrain:     DefaultMaxDrain,
		logger:       zap.NewNop(),
		kick:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Kind() transport.Kind             { return transport.KindBLE }
func (t *Transport) DeviceID() string                 { return t.deviceID }
func (t *Transport) IsConnected() bool                { return t.connected.Load() }
func (t *Transport) State() State                     { return State(t.state.Load()) }
func (t *Transport) SetHandlers(h transport.Handlers) { t.handlers.Store(h) }

// live 回调与后台循环的统一闸门：断开中或代际已过期时一律忽略
func (t *Transport) live(gen uint64) bool {
	return !t.disconnecting.Load() && t.gen.Load() == gen
}

// Connect 发现服务与特征并选定投递方式；失败时释放已获取的设备句柄
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.link != nil {
		return nil
	}
	if t.adapter == nil {
		return errors.New("ble: no adapter")
	}

	t.state.Store(int32(StateConnecting))
	t.disconnecting.Store(false)
	gen := t.gen.Add(1)
	t.lastMailbox.Store(0)
	t.haveMailbox.Store(false)

	l, err := t.open(ctx, gen)
	if err != nil {
		t.state.Store(int32(StateDisconnected))
		return err
	}

	mode := t.subscribe(ctx, l, gen)
	t.state.Store(int32(mode))

	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	t.link = l
	t.connected.Store(true)

	l.wg.Add(1)
	go t.drainWorker(loopCtx, l)
	if mode == StatePolling {
		l.wg.Add(1)
		go t.pollLoop(loopCtx, l)
	}
	// 连接前已排队的消息
	t.requestDrain()

	t.logger.Info("ble link connected",
		zap.String("device", t.deviceID),
		zap.String("mode", mode.String()),
		zap.Bool("mailbox", l.mailbox != nil))
	t.handlers.Log(fmt.Sprintf("BLE: connected to %s (%s)", t.deviceID, mode))
	return nil
}

func (t *Transport) open(ctx context.Context, gen uint64) (l *link, err error) {
	dev, err := t.adapter.Connect(ctx, t.deviceID, func(cause error) { t.lost(gen, cause) })
	if err != nil {
		return nil, fmt.Errorf("ble: connect %s: %w", t.deviceID, err)
	}
	defer func() {
		if err != nil {
			_ = dev.Disconnect()
		}
	}()

	svc, err := dev.Service(ctx, t.uuids.Service)
	if err != nil {
		return nil, fmt.Errorf("ble: discover service %s: %w", t.uuids.Service, err)
	}
	toDev, err := svc.Characteristic(ctx, t.uuids.ToRadio)
	if err != nil {
		return nil, fmt.Errorf("ble: to-device characteristic: %w", err)
	}
	fromDev, err := svc.Characteristic(ctx, t.uuids.FromRadio)
	if err != nil && t.uuids.FromRadioLegacy != "" {
		t.logger.Debug("ble from-device not found, trying legacy uuid", zap.Error(err))
		fromDev, err = svc.Characteristic(ctx, t.uuids.FromRadioLegacy)
	}
	if err != nil {
		return nil, fmt.Errorf("ble: from-device characteristic: %w", err)
	}

	l = &link{device: dev, toDev: toDev, fromDev: fromDev, gen: gen}
	if t.uuids.FromNum != "" {
		if mb, merr := svc.Characteristic(ctx, t.uuids.FromNum); merr == nil {
			l.mailbox = mb
		} else {
			t.logger.Debug("ble mailbox characteristic unavailable", zap.Error(merr))
		}
	}
	return l, nil
}

// subscribe 订阅阶梯：权限错误时配对一次并重试，仍失败则轮询
func (t *Transport) subscribe(ctx context.Context, l *link, gen uint64) State {
	err := t.trySubscribe(l, gen)
	if err == nil {
		return StateNotifySubscribed
	}
	if IsPermissionError(err) {
		t.handlers.Log("BLE: notifications need pairing, requesting pairing")
		if perr := l.device.Pair(ctx); perr != nil {
			t.logger.Warn("ble pairing failed", zap.String("device", t.deviceID), zap.Error(perr))
		} else if err = t.trySubscribe(l, gen); err == nil {
			return StateNotifySubscribed
		}
	}
	t.logger.Info("ble notifications unavailable, polling", zap.String("device", t.deviceID), zap.Error(err))
	t.handlers.Log("BLE: notifications unavailable, falling back to polling")
	return StatePolling
}

func (t *Transport) trySubscribe(l *link, gen uint64) error {
	err := l.fromDev.Subscribe(func(p []byte) { t.onFromDevice(gen, p) })
	if err == nil {
		l.subscribed = l.fromDev
		return nil
	}
	if l.mailbox == nil {
		return err
	}
	merr := l.mailbox.Subscribe(func(p []byte) { t.onMailbox(gen, p) })
	if merr == nil {
		l.subscribed = l.mailbox
		return nil
	}
	return errors.Join(err, merr)
}

func (t *Transport) onFromDevice(gen uint64, p []byte) {
	if !t.live(gen) || len(p) == 0 {
		return
	}
	t.deliver(p)
}

func (t *Transport) onMailbox(gen uint64, p []byte) {
	if !t.live(gen) {
		return
	}
	if v, ok := parseCounter(p); ok {
		t.lastMailbox.Store(v)
		t.haveMailbox.Store(true)
	}
	t.requestDrain()
}

func (t *Transport) requestDrain() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// drainWorker 处理通知触发的 drain，避免在硬件回调线程中阻塞读
func (t *Transport) drainWorker(ctx context.Context, l *link) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.kick:
			t.drain(ctx, l, t.maxDrain)
		}
	}
}

func (t *Transport) pollLoop(ctx context.Context, l *link) {
	defer l.wg.Done()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !t.live(l.gen) {
			return
		}
		tick++
		force := tick%t.forceEvery == 0

		if l.mailbox == nil {
			t.drain(ctx, l, t.maxDrain)
			continue
		}
		p, err := l.mailbox.Read(ctx)
		if err != nil {
			t.logger.Debug("ble mailbox read failed", zap.Error(err))
			if force {
				t.drain(ctx, l, t.maxDrain)
			}
			continue
		}
		v, ok := parseCounter(p)
		if !ok {
			if force {
				t.drain(ctx, l, t.maxDrain)
			}
			continue
		}
		prev := t.lastMailbox.Swap(v)
		seen := t.haveMailbox.Swap(true)
		switch {
		case seen && v != prev:
			budget := t.maxDrain
			if d := int(v - prev); d > 0 && d < budget {
				budget = d
			}
			t.drain(ctx, l, budget)
		case !seen || force:
			t.drain(ctx, l, t.maxDrain)
		}
	}
}

// drain 连续读取 from-device，遇到空读或达到读取上限即停止
func (t *Transport) drain(ctx context.Context, l *link, budget int) int {
	t.drainMu.Lock()
	defer t.drainMu.Unlock()

	reads := 0
	for reads < budget {
		if !t.live(l.gen) || ctx.Err() != nil {
			break
		}
		p, err := l.fromDev.Read(ctx)
		if err != nil {
			t.logger.Debug("ble from-device read failed", zap.Error(err))
			break
		}
		if len(p) == 0 {
			break
		}
		reads++
		t.deliver(p)
	}
	if t.onDrain != nil && reads > 0 {
		t.onDrain(reads)
	}
	return reads
}

// deliver 统一为 4 字节帧；已带帧头的负载先剥掉一层
func (t *Transport) deliver(p []byte) {
	if inner, ok := wire.Strip(p); ok {
		p = inner
	}
	framed, err := wire.Wrap(p)
	if err != nil {
		t.logger.Warn("ble inbound payload dropped", zap.Int("len", len(p)), zap.Error(err))
		return
	}
	t.handlers.Bytes(framed)
}

// Send 剥掉调用方可能已加的一层帧头后写入 to-device
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	l := t.link
	t.mu.Unlock()
	if l == nil || !t.connected.Load() || t.disconnecting.Load() {
		return fmt.Errorf("ble %s: %w", t.deviceID, transport.ErrNotConnected)
	}

	payload := data
	if inner, ok := wire.Strip(data); ok {
		payload = inner
	}
	err := l.toDev.WriteWithoutResponse(ctx, payload)
	if err == nil {
		return nil
	}
	t.logger.Debug("ble write without response failed, retrying with response", zap.Error(err))
	if werr := l.toDev.Write(ctx, payload); werr != nil {
		return fmt.Errorf("ble: write to-device: %w", errors.Join(err, werr))
	}
	return nil
}

// Disconnect 幂等；先置断开标志，晚到的回调随之失效
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	l := t.detach()
	t.mu.Unlock()
	if l == nil {
		return nil
	}
	t.teardown(l)
	t.logger.Info("ble link closed", zap.String("device", t.deviceID))
	return nil
}

// lost 后端报告设备断开
func (t *Transport) lost(gen uint64, cause error) {
	if !t.live(gen) {
		return
	}
	t.mu.Lock()
	l := t.link
	if l == nil || l.gen != gen {
		t.mu.Unlock()
		return
	}
	t.detach()
	t.mu.Unlock()

	t.teardown(l)
	if cause == nil {
		cause = errors.New("ble: device disconnected")
	}
	t.logger.Warn("ble link lost", zap.String("device", t.deviceID), zap.Error(cause))
	t.handlers.Log(fmt.Sprintf("BLE: link lost to %s: %v", t.deviceID, cause))
	t.handlers.Dropped(cause)
}

// detach 需持有 mu
func (t *Transport) detach() *link {
	l := t.link
	if l == nil {
		t.state.Store(int32(StateDisconnected))
		return nil
	}
	t.disconnecting.Store(true)
	t.gen.Add(1)
	t.link = nil
	t.connected.Store(false)
	l.cancel()
	return l
}

// teardown 尽力释放，错误只记录
func (t *Transport) teardown(l *link) {
	l.wg.Wait()
	if l.subscribed != nil {
		if err := l.subscribed.Unsubscribe(); err != nil {
			t.logger.Debug("ble unsubscribe failed", zap.Error(err))
		}
	}
	if err := l.device.Disconnect(); err != nil {
		t.logger.Debug("ble device disconnect failed", zap.Error(err))
	}
	t.state.Store(int32(StateDisconnected))
}

// parseCounter mailbox 计数为小端 uint32
func parseCounter(p []byte) (uint32, bool) {
	switch {
	case len(p) >= 4:
		return binary.LittleEndian.Uint32(p), true
	case len(p) > 0:
		var b [4]byte
		copy(b[:], p)
		return binary.LittleEndian.Uint32(b[:]), true
	default:
		return 0, false
	}
}
