package tcp

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	host, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return ln, host, port
}

func TestTCP_DefaultPort(t *testing.T) {
	tr := New("radio.local", 0)
	assert.Equal(t, "radio.local:4403", tr.Addr())
	assert.Equal(t, transport.KindTCP, tr.Kind())
}

func TestTCP_RoundTrip(t *testing.T) {
	ln, host, port := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tr := New(host, port)
	chunks := make(chan []byte, 4)
	tr.SetHandlers(transport.Handlers{OnBytes: func(b []byte) { chunks <- b }})
	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.IsConnected())

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	defer server.Close()

	require.NoError(t, tr.Send(context.Background(), []byte{0x94, 0xC3, 0x00, 0x01, 0x2A}))
	got := make([]byte, 5)
	_, err := io.ReadFull(server, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x94, 0xC3, 0x00, 0x01, 0x2A}, got)

	_, err = server.Write([]byte("hello"))
	require.NoError(t, err)
	select {
	case c := <-chunks:
		assert.Equal(t, "hello", string(c))
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound chunk")
	}

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect())
	assert.True(t, transport.IsNotConnected(tr.Send(context.Background(), []byte{1})))
}

func TestTCP_PeerCloseReportsDrop(t *testing.T) {
	ln, host, port := listen(t)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()

	tr := New(host, port)
	dropped := make(chan error, 1)
	tr.SetHandlers(transport.Handlers{OnDisconnect: func(err error) { dropped <- err }})
	require.NoError(t, tr.Connect(context.Background()))

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("drop not reported")
	}
	assert.False(t, tr.IsConnected())
}

func TestTCP_DialFailure(t *testing.T) {
	tr := New("127.0.0.1", 1, WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: network, Err: io.ErrUnexpectedEOF}
	}))
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, tr.IsConnected())
	assert.NoError(t, tr.Disconnect())
}
