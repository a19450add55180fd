package endpoint

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

// Redis Hash 字段
const (
	fieldPreferred = "preferred"
	fieldSerial    = "serial_port"
	fieldTCPHost   = "tcp_host"
	fieldTCPPort   = "tcp_port"
	fieldBLE       = "ble_device_id"
)

// DefaultRedisKey meshlink:endpoint:{instance}
const DefaultRedisKey = "meshlink:endpoint:default"

// Redis 多实例部署时共享端点记录
type Redis struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Remember 只覆盖本次链路类型的字段与首选类型
func (s *Redis) Remember(ctx context.Context, e Endpoint) error {
	var r Remembered
	r.Apply(e)
	if r.Preferred == "" {
		return nil
	}
	fields := map[string]interface{}{fieldPreferred: string(r.Preferred)}
	switch e.Kind {
	case transport.KindSerial:
		fields[fieldSerial] = r.SerialPort
	case transport.KindTCP:
		fields[fieldTCPHost] = r.TCPHost
		fields[fieldTCPPort] = r.TCPPort
	case transport.KindBLE:
		fields[fieldBLE] = r.BLEDeviceID
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("endpoint: redis hset %s: %w", s.key, err)
	}
	return nil
}

func (s *Redis) Last(ctx context.Context) (Remembered, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Remembered{}, fmt.Errorf("endpoint: redis hgetall %s: %w", s.key, err)
	}
	r := Remembered{
		Preferred:   transport.Kind(m[fieldPreferred]),
		SerialPort:  m[fieldSerial],
		TCPHost:     m[fieldTCPHost],
		BLEDeviceID: m[fieldBLE],
	}
	if v := m[fieldTCPPort]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Remembered{}, fmt.Errorf("endpoint: bad tcp port %q: %w", v, err)
		}
		r.TCPPort = port
	}
	return r, nil
}

// Ping 供健康检查使用
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
