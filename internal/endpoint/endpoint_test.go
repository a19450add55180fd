package endpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

func TestRemembered_CandidatesPreferredFirst(t *testing.T) {
	var r Remembered
	r.Apply(Endpoint{Kind: transport.KindSerial, SerialPort: "/dev/ttyACM0"})
	r.Apply(Endpoint{Kind: transport.KindTCP, TCPHost: "10.0.0.5", TCPPort: 4403})
	r.Apply(Endpoint{Kind: transport.KindBLE, BLEDeviceID: "AA:BB:CC:DD:EE:FF"})
	r.Apply(Endpoint{Kind: transport.KindTCP, TCPHost: "10.0.0.6", TCPPort: 4403})

	got := r.Candidates()
	require.Len(t, got, 3)
	assert.Equal(t, "tcp:10.0.0.6:4403", got[0].String())
	assert.Equal(t, "serial:/dev/ttyACM0", got[1].String())
	assert.Equal(t, "ble:AA:BB:CC:DD:EE:FF", got[2].String())
}

func TestRemembered_IgnoresEmptyEndpoint(t *testing.T) {
	var r Remembered
	r.Apply(Endpoint{Kind: transport.KindBLE, BLEDeviceID: "dev"})
	r.Apply(Endpoint{Kind: transport.KindSerial})
	assert.Equal(t, transport.KindBLE, r.Preferred)
	assert.Empty(t, r.SerialPort)
	assert.Len(t, r.Candidates(), 1)
	assert.Empty(t, Remembered{}.Candidates())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Remember(ctx, Endpoint{Kind: transport.KindSerial, SerialPort: "COM3"}))
	r, err := m.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "COM3", r.SerialPort)
	assert.Equal(t, transport.KindSerial, r.Preferred)
}

func TestFile_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "endpoint.yaml")

	r, err := NewFile(path).Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, Remembered{}, r)

	f := NewFile(path)
	require.NoError(t, f.Remember(ctx, Endpoint{Kind: transport.KindSerial, SerialPort: "/dev/ttyUSB0"}))
	require.NoError(t, f.Remember(ctx, Endpoint{Kind: transport.KindBLE, BLEDeviceID: "Meshtastic_1a2b"}))

	r, err = NewFile(path).Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.KindBLE, r.Preferred)
	assert.Equal(t, "/dev/ttyUSB0", r.SerialPort)
	assert.Equal(t, "Meshtastic_1a2b", r.BLEDeviceID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFile_CorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("preferred: [oops"), 0o644))
	_, err := NewFile(path).Last(context.Background())
	assert.Error(t, err)
}

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
		return nil
	}
	t.Cleanup(func() {
		client.Del(ctx, "meshlink:endpoint:test")
		client.Close()
	})
	return client
}

func TestRedis_RememberAndLast(t *testing.T) {
	client := setupTestRedis(t)
	if client == nil {
		return
	}
	ctx := context.Background()
	s := NewRedis(client, "meshlink:endpoint:test")
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Remember(ctx, Endpoint{Kind: transport.KindTCP, TCPHost: "radio.lan", TCPPort: 4403}))
	require.NoError(t, s.Remember(ctx, Endpoint{Kind: transport.KindSerial, SerialPort: "/dev/ttyACM0"}))

	r, err := s.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.KindSerial, r.Preferred)
	assert.Equal(t, "radio.lan", r.TCPHost)
	assert.Equal(t, 4403, r.TCPPort)
	assert.Equal(t, "/dev/ttyACM0", r.SerialPort)
}
