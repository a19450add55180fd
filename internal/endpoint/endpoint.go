// Package endpoint 记录最近使用的设备端点，供重连时生成候选列表。
package endpoint

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

// Endpoint 一次成功连接所用的端点
type Endpoint struct {
	Kind        transport.Kind
	SerialPort  string
	TCPHost     string
	TCPPort     int
	BLEDeviceID string
}

func (e Endpoint) String() string {
	switch e.Kind {
	case transport.KindSerial:
		return "serial:" + e.SerialPort
	case transport.KindTCP:
		return "tcp:" + net.JoinHostPort(e.TCPHost, strconv.Itoa(e.TCPPort))
	case transport.KindBLE:
		return "ble:" + e.BLEDeviceID
	default:
		return string(e.Kind)
	}
}

// Remembered 每类链路各保留最近一次端点，Preferred 为最后成功的类型
type Remembered struct {
	Preferred   transport.Kind `yaml:"preferred,omitempty" json:"preferred,omitempty"`
	SerialPort  string         `yaml:"serial_port,omitempty" json:"serial_port,omitempty"`
	TCPHost     string         `yaml:"tcp_host,omitempty" json:"tcp_host,omitempty"`
	TCPPort     int            `yaml:"tcp_port,omitempty" json:"tcp_port,omitempty"`
	BLEDeviceID string         `yaml:"ble_device_id,omitempty" json:"ble_device_id,omitempty"`
}

// Apply 记入一次成功连接
func (r *Remembered) Apply(e Endpoint) {
	switch e.Kind {
	case transport.KindSerial:
		if e.SerialPort == "" {
			return
		}
		r.SerialPort = e.SerialPort
	case transport.KindTCP:
		if e.TCPHost == "" {
			return
		}
		r.TCPHost = e.TCPHost
		r.TCPPort = e.TCPPort
	case transport.KindBLE:
		if e.BLEDeviceID == "" {
			return
		}
		r.BLEDeviceID = e.BLEDeviceID
	default:
		return
	}
	r.Preferred = e.Kind
}

// Candidates 首选类型在前，其余按 serial、tcp、ble 顺序；同一端点只出现一次
func (r Remembered) Candidates() []Endpoint {
	all := map[transport.Kind]Endpoint{}
	if r.SerialPort != "" {
		all[transport.KindSerial] = Endpoint{Kind: transport.KindSerial, SerialPort: r.SerialPort}
	}
	if r.TCPHost != "" {
		all[transport.KindTCP] = Endpoint{Kind: transport.KindTCP, TCPHost: r.TCPHost, TCPPort: r.TCPPort}
	}
	if r.BLEDeviceID != "" {
		all[transport.KindBLE] = Endpoint{Kind: transport.KindBLE, BLEDeviceID: r.BLEDeviceID}
	}

	order := []transport.Kind{r.Preferred, transport.KindSerial, transport.KindTCP, transport.KindBLE}
	seen := make(map[string]bool, len(order))
	out := make([]Endpoint, 0, len(all))
	for _, k := range order {
		e, ok := all[k]
		if !ok || seen[e.String()] {
			continue
		}
		seen[e.String()] = true
		out = append(out, e)
	}
	return out
}

// Store 端点持久化
type Store interface {
	Remember(ctx context.Context, e Endpoint) error
	Last(ctx context.Context) (Remembered, error)
}

// Memory 进程内存储
type Memory struct {
	mu sync.Mutex
	r  Remembered
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Remember(ctx context.Context, e Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.r.Apply(e)
	return nil
}

func (m *Memory) Last(ctx context.Context) (Remembered, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.r, nil
}
