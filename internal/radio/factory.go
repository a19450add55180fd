package radio

import (
	"fmt"

	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/ble"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/serial"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/tcp"
)

// Factory 按端点构造未连接的链路
type Factory interface {
	New(ep endpoint.Endpoint) (transport.Transport, error)
}

// FactoryFunc 函数适配
type FactoryFunc func(ep endpoint.Endpoint) (transport.Transport, error)

func (f FactoryFunc) New(ep endpoint.Endpoint) (transport.Transport, error) { return f(ep) }

// Transports 默认工厂；BLEAdapter 为空时不支持 BLE
type Transports struct {
	Serial     []serial.Option
	TCP        []tcp.Option
	BLE        []ble.Option
	BLEAdapter ble.Adapter
}

func (f *Transports) New(ep endpoint.Endpoint) (transport.Transport, error) {
	switch ep.Kind {
	case transport.KindSerial:
		if ep.SerialPort == "" {
			return nil, fmt.Errorf("serial port name is empty")
		}
		return serial.New(ep.SerialPort, f.Serial...), nil
	case transport.KindTCP:
		if ep.TCPHost == "" {
			return nil, fmt.Errorf("tcp host is empty")
		}
		return tcp.New(ep.TCPHost, ep.TCPPort, f.TCP...), nil
	case transport.KindBLE:
		if ep.BLEDeviceID == "" {
			return nil, fmt.Errorf("ble device id is empty")
		}
		if f.BLEAdapter == nil {
			return nil, fmt.Errorf("ble adapter not configured")
		}
		return ble.New(f.BLEAdapter, ep.BLEDeviceID, f.BLE...), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", ep.Kind)
	}
}
