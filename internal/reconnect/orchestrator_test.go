package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

type fakeLink struct {
	mu          sync.Mutex
	connected   bool
	succeedOn   int // 第 n 次连接成功，0 表示永不成功
	attempts    []string
	disconnects int
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Connect(ctx context.Context, ep endpoint.Endpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, ep.String())
	if l.succeedOn > 0 && len(l.attempts) == l.succeedOn {
		l.connected = true
		return nil
	}
	return fmt.Errorf("open %s: %w", ep, errors.New("no such device"))
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
	l.connected = false
	return nil
}

func (l *fakeLink) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *fakeLink) tried() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.attempts...)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func TestTryReconnect_ExhaustsTenRoundsWithoutCandidates(t *testing.T) {
	link := &fakeLink{}
	sl := &recordingSleeper{}
	var lines []string
	o := New(link, endpoint.NewMemory(), WithSleeper(sl.sleep))
	o.OnStatus(func(s string) { lines = append(lines, s) })

	ok := o.TryReconnectAfterSave(context.Background())
	assert.False(t, ok)
	assert.Equal(t, StateExhausted, o.State())

	waits := sl.recorded()
	require.Len(t, waits, 10)
	for _, w := range waits {
		assert.Equal(t, 20*time.Second, w)
	}
	assert.Empty(t, link.tried())
	assert.Equal(t, "Reconnect failed after 10 rounds", lines[len(lines)-1])
}

func TestTryReconnect_FailingCandidatesForceDisconnect(t *testing.T) {
	link := &fakeLink{}
	store := endpoint.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Remember(ctx, endpoint.Endpoint{Kind: transport.KindBLE, BLEDeviceID: "AA:BB"}))
	require.NoError(t, store.Remember(ctx, endpoint.Endpoint{Kind: transport.KindSerial, SerialPort: "/dev/ttyACM0"}))
	sl := &recordingSleeper{}
	o := New(link, store, WithSleeper(sl.sleep))

	assert.False(t, o.TryReconnectAfterSave(ctx))
	assert.Len(t, sl.recorded(), 10)
	tried := link.tried()
	require.Len(t, tried, 20)
	assert.Equal(t, "serial:/dev/ttyACM0", tried[0])
	assert.Equal(t, "ble:AA:BB", tried[1])
	// 初始断开一次，每个失败候选再强制断开一次
	assert.Equal(t, 21, link.disconnects)
}

func TestTryReconnect_SucceedsInLaterRound(t *testing.T) {
	link := &fakeLink{succeedOn: 5}
	store := endpoint.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Remember(ctx, endpoint.Endpoint{Kind: transport.KindSerial, SerialPort: "COM3"}))
	require.NoError(t, store.Remember(ctx, endpoint.Endpoint{Kind: transport.KindTCP, TCPHost: "radio.lan", TCPPort: 4403}))
	sl := &recordingSleeper{}
	o := New(link, store, WithSleeper(sl.sleep))

	assert.True(t, o.TryReconnectAfterSave(ctx))
	assert.Equal(t, StateConnected, o.State())
	assert.Len(t, sl.recorded(), 3)
	assert.Equal(t, "tcp:radio.lan:4403", link.tried()[4])
	assert.True(t, link.IsConnected())
}

func TestTryReconnect_SingleFlight(t *testing.T) {
	link := &fakeLink{}
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := func(ctx context.Context, d time.Duration) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return errors.New("stop")
	}
	o := New(link, endpoint.NewMemory(), WithSleeper(blocking))

	done := make(chan bool, 1)
	go func() { done <- o.TryReconnectAfterSave(context.Background()) }()
	<-entered

	var lines []string
	o.OnStatus(func(s string) { lines = append(lines, s) })
	assert.False(t, o.TryReconnectAfterSave(context.Background()))
	assert.Equal(t, []string{"Reconnect already in progress"}, lines)

	close(release)
	assert.False(t, <-done)
	// 闸门释放后可再次进入
	sl := &recordingSleeper{}
	o.sleep = sl.sleep
	o.TryReconnectAfterSave(context.Background())
	assert.Len(t, sl.recorded(), 10)
}

func TestTryReconnect_Cancelled(t *testing.T) {
	link := &fakeLink{}
	o := New(link, endpoint.NewMemory(), WithSleeper(sleepCtx), WithTimings(Timings{Delay: time.Hour}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.False(t, o.TryReconnectAfterSave(ctx))
	assert.Equal(t, StateIdle, o.State())
}

func TestWatchdog_TriggersExactlyOneReconnect(t *testing.T) {
	link := &fakeLink{connected: true, succeedOn: 1}
	store := endpoint.NewMemory()
	require.NoError(t, store.Remember(context.Background(), endpoint.Endpoint{Kind: transport.KindSerial, SerialPort: "/dev/ttyACM0"}))

	var polls atomic.Int32
	sleeper := func(ctx context.Context, d time.Duration) error {
		if d == DefaultWatchInterval && polls.Add(1) == 3 {
			link.setConnected(false)
		}
		return ctx.Err()
	}
	o := New(link, store, WithSleeper(sleeper))

	require.True(t, o.StartPostSaveWatchdog(context.Background()))
	o.Wait()

	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, []string{"serial:/dev/ttyACM0"}, link.tried())
	assert.True(t, link.IsConnected())
	assert.False(t, o.Watching())
}

func TestWatchdog_SingleInstanceAndWindow(t *testing.T) {
	link := &fakeLink{connected: true}
	release := make(chan struct{})
	var polls atomic.Int32
	sleeper := func(ctx context.Context, d time.Duration) error {
		if polls.Add(1) == 1 {
			<-release
		}
		return nil
	}
	o := New(link, endpoint.NewMemory(), WithSleeper(sleeper))

	require.True(t, o.StartPostSaveWatchdog(context.Background()))
	assert.False(t, o.StartPostSaveWatchdog(context.Background()))
	close(release)
	o.Wait()

	// 120s / 2s
	assert.Equal(t, int32(60), polls.Load())
	assert.Empty(t, link.tried())
	assert.True(t, o.StartPostSaveWatchdog(context.Background()))
	o.Wait()
}

func TestIsNotConnected(t *testing.T) {
	wrapped := fmt.Errorf("admin: send: %w", fmt.Errorf("radio: %w", transport.ErrNotConnected))
	assert.True(t, IsNotConnected(wrapped))
	assert.True(t, IsNotConnected(errors.Join(errors.New("x"), errors.New("serial: Not connected"))))
	assert.False(t, IsNotConnected(errors.New("timeout")))
	assert.False(t, IsNotConnected(nil))
}
