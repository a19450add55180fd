package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

// ConnectRequest 连接请求；kind 决定使用哪组字段
type ConnectRequest struct {
	Kind     string `json:"kind" binding:"required,oneof=serial tcp ble"`
	Port     string `json:"port"`
	Host     string `json:"host"`
	TCPPort  int    `json:"tcp_port"`
	DeviceID string `json:"device_id"`
}

func (r ConnectRequest) endpoint() (endpoint.Endpoint, error) {
	ep := endpoint.Endpoint{Kind: transport.Kind(r.Kind)}
	switch ep.Kind {
	case transport.KindSerial:
		if r.Port == "" {
			return ep, fmt.Errorf("port is required for serial")
		}
		ep.SerialPort = r.Port
	case transport.KindTCP:
		if r.Host == "" {
			return ep, fmt.Errorf("host is required for tcp")
		}
		ep.TCPHost, ep.TCPPort = r.Host, r.TCPPort
	case transport.KindBLE:
		if r.DeviceID == "" {
			return ep, fmt.Errorf("device_id is required for ble")
		}
		ep.BLEDeviceID = r.DeviceID
	}
	return ep, nil
}

// TextRequest 文本消息；To 为空时广播
type TextRequest struct {
	Text string  `json:"text" binding:"required"`
	To   *uint32 `json:"to"`
}

// OwnerDTO 节点所有者
type OwnerDTO struct {
	ID         string `json:"id"`
	LongName   string `json:"long_name"`
	ShortName  string `json:"short_name"`
	HWModel    int32  `json:"hw_model"`
	IsLicensed bool   `json:"is_licensed"`
	Role       int32  `json:"role"`
}

func ownerFrom(u *meshpb.User) OwnerDTO {
	if u == nil {
		return OwnerDTO{}
	}
	return OwnerDTO{
		ID:         u.ID,
		LongName:   u.LongName,
		ShortName:  u.ShortName,
		HWModel:    u.HWModel,
		IsLicensed: u.IsLicensed,
		Role:       u.Role,
	}
}

func (o OwnerDTO) user() *meshpb.User {
	return &meshpb.User{
		ID:         o.ID,
		LongName:   o.LongName,
		ShortName:  o.ShortName,
		HWModel:    o.HWModel,
		IsLicensed: o.IsLicensed,
		Role:       o.Role,
	}
}

// ChannelDTO 信道；PSK 以 base64 传输
type ChannelDTO struct {
	Index             int32  `json:"index"`
	Role              string `json:"role"`
	Name              string `json:"name,omitempty"`
	PSK               []byte `json:"psk,omitempty"`
	ID                uint32 `json:"id,omitempty"`
	UplinkEnabled     bool   `json:"uplink_enabled"`
	DownlinkEnabled   bool   `json:"downlink_enabled"`
	PositionPrecision uint32 `json:"position_precision"`
	Muted             bool   `json:"muted"`
}

func channelFrom(c *meshpb.Channel) ChannelDTO {
	d := ChannelDTO{Index: c.Index, Role: c.Role.String()}
	if s := c.Settings; s != nil {
		d.Name, d.PSK, d.ID = s.Name, s.PSK, s.ID
		d.UplinkEnabled, d.DownlinkEnabled = s.UplinkEnabled, s.DownlinkEnabled
		if m := s.ModuleSettings; m != nil {
			d.PositionPrecision, d.Muted = m.PositionPrecision, m.IsClientMuted
		}
	}
	return d
}

func (d ChannelDTO) channel() (*meshpb.Channel, error) {
	var role meshpb.ChannelRole
	switch strings.ToUpper(d.Role) {
	case "PRIMARY":
		role = meshpb.ChannelRolePrimary
	case "SECONDARY":
		role = meshpb.ChannelRoleSecondary
	case "DISABLED", "":
		return meshpb.DisabledChannel(d.Index), nil
	default:
		return nil, fmt.Errorf("channel %d: unknown role %q", d.Index, d.Role)
	}
	return &meshpb.Channel{
		Index: d.Index,
		Role:  role,
		Settings: &meshpb.ChannelSettings{
			PSK:             d.PSK,
			Name:            d.Name,
			ID:              d.ID,
			UplinkEnabled:   d.UplinkEnabled,
			DownlinkEnabled: d.DownlinkEnabled,
			ModuleSettings:  &meshpb.ModuleSettings{PositionPrecision: d.PositionPrecision, IsClientMuted: d.Muted},
		},
	}, nil
}

// TextBody 罐头消息与铃声共用
type TextBody struct {
	Value string `json:"value"`
}

// PayloadBody 配置分区原始编码，base64 传输
type PayloadBody struct {
	Payload []byte `json:"payload"`
}

// parseNode 接受十进制、0x 十六进制或 "!a1b2c3d4" 形式
func parseNode(s string) (uint32, error) {
	raw := strings.TrimSpace(s)
	digits, base := raw, 10
	switch {
	case strings.HasPrefix(raw, "!"):
		digits, base = raw[1:], 16
	case strings.HasPrefix(raw, "0x"), strings.HasPrefix(raw, "0X"):
		digits, base = raw[2:], 16
	}
	n, err := strconv.ParseUint(digits, base, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid node %q", raw)
	}
	return uint32(n), nil
}
