package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	cfgpkg "github.com/rvenes/MeshVenes-sub000/internal/config"
	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/metrics"
	"github.com/rvenes/MeshVenes-sub000/internal/radio"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/ble"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/serial"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/tcp"
)

// NewEndpointStore 按配置选择记忆端点的存储；postgres 存储在此建表
func NewEndpointStore(ctx context.Context, cfg cfgpkg.EndpointsConfig, rdb redis.UniversalClient, pg *pgxpool.Pool) (endpoint.Store, error) {
	switch cfg.Store {
	case "memory":
		return endpoint.NewMemory(), nil
	case "file":
		return endpoint.NewFile(cfg.File), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("endpoint store: redis client not initialized")
		}
		return endpoint.NewRedis(rdb, cfg.RedisKey), nil
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("endpoint store: postgres pool not initialized")
		}
		s := endpoint.NewPostgres(pg, cfg.Instance)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("endpoint store: unknown kind %q", cfg.Store)
	}
}

// bleUUIDs 未配置的字段沿用固件默认值
func bleUUIDs(c cfgpkg.BLEUUIDs) ble.UUIDs {
	u := ble.DefaultUUIDs
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&u.Service, c.Service)
	pick(&u.ToRadio, c.ToRadio)
	pick(&u.FromRadio, c.FromRadio)
	pick(&u.FromRadioLegacy, c.FromRadioLegacy)
	pick(&u.FromNum, c.FromNum)
	return u
}

// NewTransports 构建三类链路的工厂；BLE 未启用时 adapter 为空
func NewTransports(cfg cfgpkg.LinkConfig, adapter ble.Adapter, m *metrics.LinkMetrics, logger *zap.Logger) *radio.Transports {
	t := &radio.Transports{
		Serial: []serial.Option{
			serial.WithBaud(cfg.Serial.Baud),
			serial.WithWake(cfg.Serial.Wake),
			serial.WithLogger(logger.Named("serial")),
		},
		TCP: []tcp.Option{
			tcp.WithConnectTimeout(cfg.TCP.ConnectTimeout),
			tcp.WithLogger(logger.Named("tcp")),
		},
		BLE: []ble.Option{
			ble.WithUUIDs(bleUUIDs(cfg.BLE.UUIDs)),
			ble.WithPollInterval(cfg.BLE.PollInterval),
			ble.WithForceEvery(cfg.BLE.ForceEvery),
			ble.WithMaxDrain(cfg.BLE.MaxDrain),
			ble.WithLogger(logger.Named("ble")),
		},
	}
	if cfg.BLE.Enable {
		t.BLEAdapter = adapter
	}
	if m != nil {
		t.BLE = append(t.BLE, ble.WithDrainObserver(m.ObserveDrain))
	}
	return t
}

// ConfiguredEndpoint 由 link.autoConnect 指定的端点；未指定时 ok 为 false
func ConfiguredEndpoint(cfg cfgpkg.LinkConfig) (endpoint.Endpoint, bool) {
	switch transport.Kind(cfg.AutoConnect) {
	case transport.KindSerial:
		return endpoint.Endpoint{Kind: transport.KindSerial, SerialPort: cfg.Serial.Port}, cfg.Serial.Port != ""
	case transport.KindTCP:
		return endpoint.Endpoint{Kind: transport.KindTCP, TCPHost: cfg.TCP.Host, TCPPort: cfg.TCP.Port}, cfg.TCP.Host != ""
	case transport.KindBLE:
		return endpoint.Endpoint{Kind: transport.KindBLE, BLEDeviceID: cfg.BLE.DeviceID}, cfg.BLE.DeviceID != ""
	default:
		return endpoint.Endpoint{}, false
	}
}

// Connector 启动时建立链路的对象（radio.Session 实现）
type Connector interface {
	Connect(ctx context.Context, ep endpoint.Endpoint) error
}

// InitialConnect 优先使用配置指定的端点，否则依次尝试记忆的端点；只尝试一轮
func InitialConnect(ctx context.Context, link Connector, cfg cfgpkg.LinkConfig, store endpoint.Store, logger *zap.Logger) (endpoint.Endpoint, error) {
	var cands []endpoint.Endpoint
	if ep, ok := ConfiguredEndpoint(cfg); ok {
		cands = append(cands, ep)
	} else if store != nil {
		r, err := store.Last(ctx)
		if err != nil {
			logger.Warn("load remembered endpoints failed", zap.Error(err))
		}
		cands = r.Candidates()
	}
	if len(cands) == 0 {
		return endpoint.Endpoint{}, fmt.Errorf("no endpoint configured or remembered")
	}

	var lastErr error
	for _, ep := range cands {
		if err := link.Connect(ctx, ep); err != nil {
			logger.Warn("initial connect failed", zap.String("endpoint", ep.String()), zap.Error(err))
			lastErr = err
			continue
		}
		return ep, nil
	}
	return endpoint.Endpoint{}, fmt.Errorf("initial connect: %w", lastErr)
}
