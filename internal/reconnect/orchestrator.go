// Package reconnect 在保存配置导致设备重启后重建链路。
//
// 单次重连序列：断开旧链路 → 等待固定间隔 → 依次尝试记忆的端点（首选类型优先），
// 整轮失败则再次等待，最多若干轮。全进程同一时刻只运行一个序列。
package reconnect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

const (
	DefaultDelay          = 20 * time.Second
	DefaultRounds         = 10
	DefaultWatchInterval  = 2 * time.Second
	DefaultWatchWindow    = 120 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// Linker 可重连的链路持有者（radio.Session 实现）
type Linker interface {
	IsConnected() bool
	Connect(ctx context.Context, ep endpoint.Endpoint) error
	Disconnect() error
}

// Sleeper 可取消的等待，测试中替换为即时返回
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
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

// State 重连序列状态
type State int32

const (
	StateIdle State = iota
	StateDisconnecting
	StateWaiting
	StateTrying
	StateConnected
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnecting:
		return "disconnecting"
	case StateWaiting:
		return "waiting"
	case StateTrying:
		return "trying"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

// Timings 重连节奏
type Timings struct {
	Delay          time.Duration
	Rounds         int
	WatchInterval  time.Duration
	WatchWindow    time.Duration
	ConnectTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Delay:          DefaultDelay,
		Rounds:         DefaultRounds,
		WatchInterval:  DefaultWatchInterval,
		WatchWindow:    DefaultWatchWindow,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

type Orchestrator struct {
	link     Linker
	store    endpoint.Store
	timings  Timings
	sleep    Sleeper
	logger   *zap.Logger
	observer Observer

	gate     chan struct{}
	watching atomic.Bool
	state    atomic.Int32
	wg       sync.WaitGroup

	hookMu sync.RWMutex
	hooks  []func(string)
}

type Option func(*Orchestrator)

// WithTimings 零值字段保留默认
func WithTimings(t Timings) Option {
	return func(o *Orchestrator) {
		if t.Delay > 0 {
			o.timings.Delay = t.Delay
		}
		if t.Rounds > 0 {
			o.timings.Rounds = t.Rounds
		}
		if t.WatchInterval > 0 {
			o.timings.WatchInterval = t.WatchInterval
		}
		if t.WatchWindow > 0 {
			o.timings.WatchWindow = t.WatchWindow
		}
		if t.ConnectTimeout > 0 {
			o.timings.ConnectTimeout = t.ConnectTimeout
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func New(link Linker, store endpoint.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		link:     link,
		store:    store,
		timings:  DefaultTimings(),
		sleep:    sleepCtx,
		logger:   zap.NewNop(),
		observer: NopObserver(),
		gate:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IsNotConnected 判断错误是否为链路未连接（沿整条错误链匹配 "Not connected"）
func IsNotConnected(err error) bool { return transport.IsNotConnected(err) }

// OnStatus 订阅状态文本
func (o *Orchestrator) OnStatus(fn func(string)) {
	o.hookMu.Lock()
	o.hooks = append(o.hooks, fn)
	o.hookMu.Unlock()
}

func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Watching 看门狗是否在运行
func (o *Orchestrator) Watching() bool { return o.watching.Load() }

// Wait 等待后台看门狗退出
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) status(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	o.logger.Info("reconnect status", zap.String("status", line), zap.String("state", o.State().String()))
	o.hookMu.RLock()
	hooks := o.hooks
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(line)
	}
}

func (o *Orchestrator) setState(s State) { o.state.Store(int32(s)) }

// TryReconnectAfterSave 运行一次重连序列；已有序列在运行时立即返回 false。
// 所有失败都转为状态文本，不向调用方返回错误
func (o *Orchestrator) TryReconnectAfterSave(ctx context.Context) bool {
	select {
	case o.gate <- struct{}{}:
	default:
		o.observer.Record("reconnect", "busy")
		o.status("Reconnect already in progress")
		return false
	}
	defer func() { <-o.gate }()

	o.setState(StateDisconnecting)
	o.status("Disconnecting stale link")
	if err := o.link.Disconnect(); err != nil {
		o.logger.Debug("stale link disconnect failed", zap.Error(err))
	}

	rounds := o.timings.Rounds
	for round := 1; round <= rounds; round++ {
		o.setState(StateWaiting)
		o.status("Waiting %s for device to restart (round %d/%d)", o.timings.Delay, round, rounds)
		if err := o.sleep(ctx, o.timings.Delay); err != nil {
			return o.cancelled()
		}

		o.setState(StateTrying)
		cands := o.candidates(ctx)
		if len(cands) == 0 {
			o.status("Round %d/%d: no remembered endpoints", round, rounds)
		}
		for _, ep := range cands {
			o.status("Round %d/%d: trying %s", round, rounds, ep)
			if err := o.connect(ctx, ep); err != nil {
				o.status("Round %d/%d: %s failed: %v", round, rounds, ep, err)
				if derr := o.link.Disconnect(); derr != nil {
					o.logger.Debug("force disconnect failed", zap.Error(derr))
				}
				if ctx.Err() != nil {
					return o.cancelled()
				}
				continue
			}
			o.setState(StateConnected)
			o.observer.Record("reconnect", "ok")
			o.status("Reconnected via %s", ep)
			return true
		}
		o.observer.Record("reconnect_round", "failed")
	}

	o.setState(StateExhausted)
	o.observer.Record("reconnect", "exhausted")
	o.status("Reconnect failed after %d rounds", rounds)
	return false
}

func (o *Orchestrator) connect(ctx context.Context, ep endpoint.Endpoint) error {
	cctx, cancel := context.WithTimeout(ctx, o.timings.ConnectTimeout)
	defer cancel()
	return o.link.Connect(cctx, ep)
}

func (o *Orchestrator) cancelled() bool {
	o.setState(StateIdle)
	o.observer.Record("reconnect", "canceled")
	o.status("Reconnect cancelled")
	return false
}

func (o *Orchestrator) candidates(ctx context.Context) []endpoint.Endpoint {
	if o.store == nil {
		return nil
	}
	r, err := o.store.Last(ctx)
	if err != nil {
		o.logger.Warn("load remembered endpoints failed", zap.Error(err))
		return nil
	}
	return r.Candidates()
}

// StartPostSaveWatchdog 保存后监视链路，掉线时触发一次重连序列。
// 已有看门狗在运行时为空操作并返回 false
func (o *Orchestrator) StartPostSaveWatchdog(ctx context.Context) bool {
	if !o.watching.CompareAndSwap(false, true) {
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.watching.Store(false)
		o.watch(ctx)
	}()
	return true
}

func (o *Orchestrator) watch(ctx context.Context) {
	polls := int(o.timings.WatchWindow / o.timings.WatchInterval)
	if polls < 1 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if err := o.sleep(ctx, o.timings.WatchInterval); err != nil {
			return
		}
		if !o.link.IsConnected() {
			o.observer.Record("watchdog", "triggered")
			o.status("Link lost after save, reconnecting")
			o.TryReconnectAfterSave(ctx)
			return
		}
	}
	o.observer.Record("watchdog", "expired")
	o.logger.Debug("post-save watchdog window elapsed without drop")
}
