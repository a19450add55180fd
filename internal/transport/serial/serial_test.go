package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

type fakePort struct {
	r      *io.PipeReader
	feed   *io.PipeWriter
	mu     sync.Mutex
	out    bytes.Buffer
	dtr    bool
	rts    bool
	closes int
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, feed: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return p.r.Close()
}

func (p *fakePort) SetDTR(v bool) error { p.dtr = v; return nil }
func (p *fakePort) SetRTS(v bool) error { p.rts = v; return nil }

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func TestSerial_ConnectSendReceive(t *testing.T) {
	port := newFakePort()
	var gotMode *serial.Mode
	tr := New("/dev/ttyACM0", WithOpener(func(name string, mode *serial.Mode) (Port, error) {
		gotMode = mode
		return port, nil
	}))

	chunks := make(chan []byte, 4)
	tr.SetHandlers(transport.Handlers{OnBytes: func(b []byte) { chunks <- b }})

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.IsConnected())
	assert.Equal(t, DefaultBaud, gotMode.BaudRate)
	assert.True(t, port.dtr)
	assert.True(t, port.rts)
	assert.Equal(t, bytes.Repeat([]byte{0xC3}, wakeLen), port.written())

	go func() { _, _ = port.feed.Write([]byte{0x94, 0xC3, 0x00, 0x01, 0x08}) }()
	select {
	case c := <-chunks:
		assert.Equal(t, []byte{0x94, 0xC3, 0x00, 0x01, 0x08}, c)
	case <-time.After(time.Second):
		t.Fatal("no inbound chunk")
	}

	require.NoError(t, tr.Send(context.Background(), []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, port.written()[wakeLen:])

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect())
	assert.False(t, tr.IsConnected())
	assert.Equal(t, 1, port.closes)

	err := tr.Send(context.Background(), []byte{1})
	assert.True(t, transport.IsNotConnected(err))
}

func TestSerial_OpenFailure(t *testing.T) {
	tr := New("/dev/missing", WithOpener(func(string, *serial.Mode) (Port, error) {
		return nil, errors.New("no such file")
	}))
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/missing")
	assert.False(t, tr.IsConnected())
	assert.NoError(t, tr.Disconnect())
}

func TestSerial_DisconnectNeverConnected(t *testing.T) {
	tr := New("/dev/ttyUSB0")
	assert.NoError(t, tr.Disconnect())
	assert.True(t, transport.IsNotConnected(tr.Send(context.Background(), []byte{1})))
}

func TestSerial_ReadErrorDropsLink(t *testing.T) {
	port := newFakePort()
	tr := New("/dev/ttyACM1", WithWake(false), WithOpener(func(string, *serial.Mode) (Port, error) {
		return port, nil
	}))
	dropped := make(chan error, 1)
	tr.SetHandlers(transport.Handlers{OnDisconnect: func(err error) { dropped <- err }})
	require.NoError(t, tr.Connect(context.Background()))

	// 设备复位：读端出错
	_ = port.feed.CloseWithError(errors.New("device reset"))

	select {
	case err := <-dropped:
		assert.EqualError(t, err, "device reset")
	case <-time.After(time.Second):
		t.Fatal("drop not reported")
	}
	assert.False(t, tr.IsConnected())
	assert.NoError(t, tr.Disconnect())
}
