// Package radio 持有当前设备链路：出站封帧、入站重组与分发、连接事件和系统日志。
package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
	"github.com/rvenes/MeshVenes-sub000/internal/protocol/packetid"
	"github.com/rvenes/MeshVenes-sub000/internal/protocol/wire"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

const (
	DefaultHeartbeat = 5 * time.Minute
	DefaultRate      = 10
	DefaultBurst     = 4
	defaultHopLimit  = 3
	systemLogSize    = 200
	disconnectGrace  = 500 * time.Millisecond
)

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

// AdminSink 入站管理消息的接收方
type AdminSink interface {
	PublishIncomingAdminMessage(node uint32, msg *meshpb.AdminMessage)
}

// Status 链路快照
type Status struct {
	Connected bool           `json:"connected"`
	Kind      transport.Kind `json:"kind,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	MyNodeNum uint32         `json:"my_node_num,omitempty"`
}

// Session 同一时刻至多持有一条链路
type Session struct {
	factory      Factory
	store        endpoint.Store
	logger       *zap.Logger
	observer     Observer
	limiter      *rate.Limiter
	heartbeat    time.Duration
	adminChannel uint32
	hopLimit     uint32

	opMu sync.Mutex // 串行化 connect/disconnect

	mu       sync.Mutex
	tr       transport.Transport
	ep       endpoint.Endpoint
	hbCancel context.CancelFunc

	decMu sync.Mutex // 每条链路一个解码器，共用此锁

	connected atomic.Bool
	myNode    atomic.Uint32

	hookMu      sync.RWMutex
	sink        AdminSink
	connHooks   []func(bool)
	textHooks   []func(from uint32, text string)
	logHooks    []func(string)
	recentLines []string
}

type Option func(*Session)

func WithEndpointStore(s endpoint.Store) Option { return func(x *Session) { x.store = s } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithRateLimit 出站写入限速；r<=0 不限速
func WithRateLimit(r float64, burst int) Option {
	return func(s *Session) {
		if r <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithHeartbeat 串口/TCP 链路的心跳间隔；0 关闭
func WithHeartbeat(d time.Duration) Option { return func(s *Session) { s.heartbeat = d } }

func WithAdminChannel(idx uint32) Option { return func(s *Session) { s.adminChannel = idx } }

func NewSession(factory Factory, opts ...Option) *Session {
	s := &Session{
		factory:   factory,
		logger:    zap.NewNop(),
		observer:  NopObserver(),
		limiter:   rate.NewLimiter(rate.Limit(DefaultRate), DefaultBurst),
		heartbeat: DefaultHeartbeat,
		hopLimit:  defaultHopLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAdminSink 注册管理消息接收方（通常为 admin.Client）
func (s *Session) SetAdminSink(sink AdminSink) {
	s.hookMu.Lock()
	s.sink = sink
	s.hookMu.Unlock()
}

// OnConnectionChanged 连接状态变化时回调
func (s *Session) OnConnectionChanged(fn func(connected bool)) {
	s.hookMu.Lock()
	s.connHooks = append(s.connHooks, fn)
	s.hookMu.Unlock()
}

func (s *Session) OnText(fn func(from uint32, text string)) {
	s.hookMu.Lock()
	s.textHooks = append(s.textHooks, fn)
	s.hookMu.Unlock()
}

func (s *Session) OnSystemLog(fn func(line string)) {
	s.hookMu.Lock()
	s.logHooks = append(s.logHooks, fn)
	s.hookMu.Unlock()
}

// AddSystemLog 系统日志入口，链路与重连状态都写到这里
func (s *Session) AddSystemLog(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	s.logger.Info("system log", zap.String("line", line))
	s.hookMu.Lock()
	s.recentLines = append(s.recentLines, line)
	if n := len(s.recentLines) - systemLogSize; n > 0 {
		s.recentLines = append(s.recentLines[:0], s.recentLines[n:]...)
	}
	hooks := s.logHooks
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(line)
	}
}

// RecentLog 最近 n 行系统日志
func (s *Session) RecentLog(n int) []string {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	if n <= 0 || n > len(s.recentLines) {
		n = len(s.recentLines)
	}
	return append([]string(nil), s.recentLines[len(s.recentLines)-n:]...)
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	return tr != nil && tr.IsConnected()
}

// MyNodeNum 设备上报的本机节点号，未知时为 0
func (s *Session) MyNodeNum() uint32 { return s.myNode.Load() }

func (s *Session) Status() Status {
	s.mu.Lock()
	tr, ep := s.tr, s.ep
	s.mu.Unlock()
	st := Status{MyNodeNum: s.myNode.Load()}
	if tr != nil {
		st.Connected = tr.IsConnected()
		st.Kind = ep.Kind
		st.Endpoint = ep.String()
	}
	return st
}

func (s *Session) ConnectSerial(ctx context.Context, port string) error {
	return s.Connect(ctx, endpoint.Endpoint{Kind: transport.KindSerial, SerialPort: port})
}

func (s *Session) ConnectTCP(ctx context.Context, host string, port int) error {
	return s.Connect(ctx, endpoint.Endpoint{Kind: transport.KindTCP, TCPHost: host, TCPPort: port})
}

func (s *Session) ConnectBLE(ctx context.Context, deviceID string) error {
	return s.Connect(ctx, endpoint.Endpoint{Kind: transport.KindBLE, BLEDeviceID: deviceID})
}

// Connect 替换当前链路：连接成功后记住端点并请求配置下载
func (s *Session) Connect(ctx context.Context, ep endpoint.Endpoint) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.disconnectLocked(false)

	tr, err := s.factory.New(ep)
	if err != nil {
		s.observer.Record("connect", "error")
		return fmt.Errorf("radio: build %s: %w", ep, err)
	}
	dec := wire.NewStreamDecoder()
	tr.SetHandlers(transport.Handlers{
		OnBytes:      func(b []byte) { s.onBytes(dec, b) },
		OnLog:        s.AddSystemLog,
		OnDisconnect: func(err error) { s.onDropped(tr, err) },
	})

	s.AddSystemLog("Connecting to " + ep.String())
	if err := tr.Connect(ctx); err != nil {
		s.observer.Record("connect", "error")
		s.AddSystemLog(fmt.Sprintf("Connect to %s failed: %v", ep, err))
		return fmt.Errorf("radio: connect %s: %w", ep, err)
	}

	s.mu.Lock()
	s.tr = tr
	s.ep = ep
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Remember(ctx, ep); err != nil {
			s.logger.Warn("remember endpoint failed", zap.String("endpoint", ep.String()), zap.Error(err))
		}
	}

	nonce := packetid.Next()
	if err := s.sendToRadio(ctx, &meshpb.ToRadio{WantConfigID: nonce}); err != nil {
		s.logger.Warn("want_config request failed", zap.Error(err))
	}
	if ep.Kind != transport.KindBLE && s.heartbeat > 0 {
		s.startHeartbeat()
	}

	s.observer.Record("connect", "ok")
	s.logger.Info("radio connected", zap.String("endpoint", ep.String()), zap.Uint32("config_nonce", nonce))
	s.setConnected(true)
	return nil
}

// Disconnect 幂等
func (s *Session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.disconnectLocked(true)
}

func (s *Session) disconnectLocked(polite bool) error {
	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.stopHeartbeatLocked()
	s.mu.Unlock()
	if tr == nil {
		return nil
	}

	if polite && tr.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectGrace)
		if frame, err := wire.WrapMessage(&meshpb.ToRadio{Disconnect: true}); err == nil {
			_ = tr.Send(ctx, frame)
		}
		cancel()
	}
	err := tr.Disconnect()
	if err != nil {
		s.logger.Debug("transport disconnect error ignored", zap.Error(err))
	}
	s.AddSystemLog("Disconnected")
	s.setConnected(false)
	return nil
}

func (s *Session) onDropped(tr transport.Transport, cause error) {
	s.mu.Lock()
	if s.tr != tr {
		s.mu.Unlock()
		return
	}
	s.tr = nil
	s.stopHeartbeatLocked()
	s.mu.Unlock()

	s.observer.Record("link", "dropped")
	s.logger.Warn("radio link dropped", zap.Error(cause))
	s.setConnected(false)
}

func (s *Session) setConnected(up bool) {
	if s.connected.Swap(up) == up {
		return
	}
	s.hookMu.RLock()
	hooks := s.connHooks
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(up)
	}
}

func (s *Session) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.hbCancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.sendToRadio(ctx, &meshpb.ToRadio{Heartbeat: true}); err != nil {
					s.logger.Debug("heartbeat failed", zap.Error(err))
				}
			}
		}
	}()
}

// stopHeartbeatLocked 需持有 mu
func (s *Session) stopHeartbeatLocked() {
	if s.hbCancel != nil {
		s.hbCancel()
		s.hbCancel = nil
	}
}

// SendAdminMessage 以 ADMIN_APP 端口发往指定节点
func (s *Session) SendAdminMessage(ctx context.Context, node uint32, msg *meshpb.AdminMessage, wantResponse bool) error {
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("radio: encode admin %s: %w", msg.Variant(), err)
	}
	pkt := &meshpb.MeshPacket{
		To:       node,
		ID:       packetid.Next(),
		Channel:  s.adminChannel,
		HopLimit: s.hopLimit,
		WantAck:  true,
		Decoded: &meshpb.Data{
			PortNum:      meshpb.PortNumAdmin,
			Payload:      payload,
			WantResponse: wantResponse,
		},
	}
	if err := s.sendToRadio(ctx, &meshpb.ToRadio{Packet: pkt}); err != nil {
		s.observer.Record("admin_send", "error")
		return err
	}
	s.observer.Record("admin_send", "ok")
	s.logger.Debug("admin message sent",
		zap.Uint32("node", node),
		zap.Uint32("packet_id", pkt.ID),
		zap.String("variant", msg.Variant()),
		zap.Bool("want_response", wantResponse))
	return nil
}

// SendText to 为 nil 时广播
func (s *Session) SendText(ctx context.Context, text string, to *uint32) error {
	dest := meshpb.BroadcastAddr
	if to != nil {
		dest = *to
	}
	pkt := &meshpb.MeshPacket{
		To:       dest,
		ID:       packetid.Next(),
		HopLimit: s.hopLimit,
		WantAck:  dest != meshpb.BroadcastAddr,
		Decoded: &meshpb.Data{
			PortNum: meshpb.PortNumTextMessage,
			Payload: []byte(text),
		},
	}
	if err := s.sendToRadio(ctx, &meshpb.ToRadio{Packet: pkt}); err != nil {
		s.observer.Record("text_send", "error")
		return err
	}
	s.observer.Record("text_send", "ok")
	return nil
}

func (s *Session) sendToRadio(ctx context.Context, m *meshpb.ToRadio) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return fmt.Errorf("radio: %w", transport.ErrNotConnected)
	}
	frame, err := wire.WrapMessage(m)
	if err != nil {
		return fmt.Errorf("radio: frame to_radio: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := tr.Send(ctx, frame); err != nil {
		return err
	}
	s.observer.Record("frame_out", "ok")
	return nil
}

func (s *Session) onBytes(dec *wire.StreamDecoder, b []byte) {
	s.decMu.Lock()
	frames, console := dec.Feed(b)
	s.decMu.Unlock()

	if len(console) > 0 {
		for _, line := range strings.Split(string(console), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				s.logger.Debug("device console", zap.String("line", line))
			}
		}
	}
	for _, f := range frames {
		s.handleFrame(f)
	}
}

func (s *Session) handleFrame(payload []byte) {
	fr, err := meshpb.UnmarshalFromRadio(payload)
	if err != nil {
		s.observer.Record("frame_in", "malformed")
		s.logger.Debug("drop malformed from_radio", zap.Int("len", len(payload)), zap.Error(err))
		return
	}
	s.observer.Record("frame_in", "ok")

	switch {
	case fr.MyInfo != nil:
		s.myNode.Store(fr.MyInfo.MyNodeNum)
		s.AddSystemLog(fmt.Sprintf("Local node !%08x", fr.MyInfo.MyNodeNum))
	case fr.ConfigCompleteID != 0:
		s.AddSystemLog(fmt.Sprintf("Config download complete (%d)", fr.ConfigCompleteID))
	case fr.Rebooted:
		s.AddSystemLog("Device reported reboot")
	case fr.Packet != nil && fr.Packet.Decoded != nil:
		s.handlePacket(fr.Packet)
	}
}

func (s *Session) handlePacket(p *meshpb.MeshPacket) {
	d := p.Decoded
	switch d.PortNum {
	case meshpb.PortNumAdmin:
		msg, err := meshpb.UnmarshalAdminMessage(d.Payload)
		if err != nil {
			s.logger.Debug("drop malformed admin message", zap.Uint32("from", p.From), zap.Error(err))
			return
		}
		s.hookMu.RLock()
		sink := s.sink
		s.hookMu.RUnlock()
		if sink != nil {
			sink.PublishIncomingAdminMessage(p.From, msg)
		}
	case meshpb.PortNumTextMessage:
		text := string(d.Payload)
		s.AddSystemLog(fmt.Sprintf("Text from !%08x: %s", p.From, text))
		s.hookMu.RLock()
		hooks := s.textHooks
		s.hookMu.RUnlock()
		for _, fn := range hooks {
			fn(p.From, text)
		}
	}
}
