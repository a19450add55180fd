package endpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

// DefaultInstance 单实例部署时的行键
const DefaultInstance = "default"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mesh_endpoints (
	instance      TEXT PRIMARY KEY,
	preferred     TEXT NOT NULL DEFAULT '',
	serial_port   TEXT NOT NULL DEFAULT '',
	tcp_host      TEXT NOT NULL DEFAULT '',
	tcp_port      INTEGER NOT NULL DEFAULT 0,
	ble_device_id TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres 按实例一行保存端点记录
type Postgres struct {
	pool     *pgxpool.Pool
	instance string
}

func NewPostgres(pool *pgxpool.Pool, instance string) *Postgres {
	if instance == "" {
		instance = DefaultInstance
	}
	return &Postgres{pool: pool, instance: instance}
}

// EnsureSchema 建表，可重复执行
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("endpoint: create mesh_endpoints: %w", err)
	}
	return nil
}

// Remember 只覆盖本次链路类型的列与首选类型
func (s *Postgres) Remember(ctx context.Context, e Endpoint) error {
	var r Remembered
	r.Apply(e)
	if r.Preferred == "" {
		return nil
	}

	var sql string
	args := []interface{}{s.instance, string(r.Preferred)}
	switch e.Kind {
	case transport.KindSerial:
		sql = `INSERT INTO mesh_endpoints (instance, preferred, serial_port) VALUES ($1, $2, $3)
ON CONFLICT (instance) DO UPDATE SET preferred = EXCLUDED.preferred, serial_port = EXCLUDED.serial_port, updated_at = now()`
		args = append(args, r.SerialPort)
	case transport.KindTCP:
		sql = `INSERT INTO mesh_endpoints (instance, preferred, tcp_host, tcp_port) VALUES ($1, $2, $3, $4)
ON CONFLICT (instance) DO UPDATE SET preferred = EXCLUDED.preferred, tcp_host = EXCLUDED.tcp_host, tcp_port = EXCLUDED.tcp_port, updated_at = now()`
		args = append(args, r.TCPHost, r.TCPPort)
	case transport.KindBLE:
		sql = `INSERT INTO mesh_endpoints (instance, preferred, ble_device_id) VALUES ($1, $2, $3)
ON CONFLICT (instance) DO UPDATE SET preferred = EXCLUDED.preferred, ble_device_id = EXCLUDED.ble_device_id, updated_at = now()`
		args = append(args, r.BLEDeviceID)
	default:
		return nil
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("endpoint: upsert %s: %w", s.instance, err)
	}
	return nil
}

func (s *Postgres) Last(ctx context.Context) (Remembered, error) {
	var (
		r         Remembered
		preferred string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT preferred, serial_port, tcp_host, tcp_port, ble_device_id FROM mesh_endpoints WHERE instance = $1`,
		s.instance,
	).Scan(&preferred, &r.SerialPort, &r.TCPHost, &r.TCPPort, &r.BLEDeviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Remembered{}, nil
	}
	if err != nil {
		return Remembered{}, fmt.Errorf("endpoint: load %s: %w", s.instance, err)
	}
	r.Preferred = transport.Kind(preferred)
	return r, nil
}

// Ping 供健康检查使用
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
