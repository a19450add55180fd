package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

const readBufSize = 512

// TinyGoAdapter 基于 tinygo.org/x/bluetooth 的后端（Linux 上经由 BlueZ）
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	drops map[string]func(error)
}

// NewTinyGoAdapter 使用系统默认适配器
func NewTinyGoAdapter(logger *zap.Logger) *TinyGoAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TinyGoAdapter{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		drops:   make(map[string]func(error)),
	}
}

func (a *TinyGoAdapter) enable() error {
	a.enableOnce.Do(func() {
		a.enableErr = a.adapter.Enable()
		if a.enableErr == nil {
			a.adapter.SetConnectHandler(a.onConnectEvent)
		}
	})
	return a.enableErr
}

func (a *TinyGoAdapter) onConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := strings.ToUpper(device.Address.String())
	a.mu.Lock()
	fn := a.drops[key]
	delete(a.drops, key)
	a.mu.Unlock()
	if fn != nil {
		fn(fmt.Errorf("ble: device %s disconnected", key))
	}
}

// Connect 扫描匹配地址或广播名的设备后建立连接
func (a *TinyGoAdapter) Connect(ctx context.Context, deviceID string, onDrop func(error)) (Device, error) {
	if err := a.enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	addr, err := a.scan(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	key := strings.ToUpper(addr.String())
	if onDrop != nil {
		a.mu.Lock()
		a.drops[key] = onDrop
		a.mu.Unlock()
	}
	a.logger.Debug("ble device connected", zap.String("address", key))
	return &tinyDevice{owner: a, key: key, dev: dev}, nil
}

func (a *TinyGoAdapter) scan(ctx context.Context, deviceID string) (bluetooth.Address, error) {
	want := strings.ToUpper(strings.TrimSpace(deviceID))
	found := make(chan bluetooth.Address, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- a.adapter.Scan(func(ad *bluetooth.Adapter, r bluetooth.ScanResult) {
			if strings.ToUpper(r.Address.String()) != want && strings.ToUpper(r.LocalName()) != want {
				return
			}
			select {
			case found <- r.Address:
			default:
			}
			_ = ad.StopScan()
		})
	}()

	select {
	case addr := <-found:
		<-scanErr
		return addr, nil
	case err := <-scanErr:
		select {
		case addr := <-found:
			return addr, nil
		default:
		}
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("ble: scan: %w", err)
		}
		return bluetooth.Address{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	case <-ctx.Done():
		_ = a.adapter.StopScan()
		<-scanErr
		return bluetooth.Address{}, fmt.Errorf("%w: %s: %w", ErrDeviceNotFound, deviceID, ctx.Err())
	}
}

type tinyDevice struct {
	owner *TinyGoAdapter
	key   string
	dev   bluetooth.Device
}

func (d *tinyDevice) Service(ctx context.Context, uuid string) (Service, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse uuid %q: %w", uuid, err)
	}
	svcs, err := d.dev.DiscoverServices([]bluetooth.UUID{u})
	if err != nil || len(svcs) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrServiceNotFound, uuid, err)
	}
	return &tinyService{svc: svcs[0]}, nil
}

// Pair tinygo 后端没有配对接口，依赖系统已完成配对
func (d *tinyDevice) Pair(ctx context.Context) error { return ErrPairingUnsupported }

func (d *tinyDevice) Disconnect() error {
	d.owner.mu.Lock()
	delete(d.owner.drops, d.key)
	d.owner.mu.Unlock()
	return d.dev.Disconnect()
}

type tinyService struct {
	svc bluetooth.DeviceService
}

// Characteristic 逐个发现；批量发现在缺少任一特征时整体失败
func (s *tinyService) Characteristic(ctx context.Context, uuid string) (Characteristic, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse uuid %q: %w", uuid, err)
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", ErrCharacteristicNotFound, uuid, err)
	}
	return &tinyChar{uuid: uuid, c: chars[0]}, nil
}

type tinyChar struct {
	uuid string
	c    bluetooth.DeviceCharacteristic
}

func (c *tinyChar) UUID() string { return c.uuid }

func (c *tinyChar) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, readBufSize)
	n, err := c.c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyChar) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.c.Write(p)
	return err
}

func (c *tinyChar) WriteWithoutResponse(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.c.WriteWithoutResponse(p)
	return err
}

func (c *tinyChar) Subscribe(fn func([]byte)) error {
	return c.c.EnableNotifications(func(buf []byte) {
		p := make([]byte, len(buf))
		copy(p, buf)
		fn(p)
	})
}

func (c *tinyChar) Unsubscribe() error { return c.c.EnableNotifications(nil) }
