package meshpb

import "fmt"

// ChannelRole 信道角色
type ChannelRole int32

const (
	ChannelRoleDisabled  ChannelRole = 0
	ChannelRolePrimary   ChannelRole = 1
	ChannelRoleSecondary ChannelRole = 2
)

func (r ChannelRole) String() string {
	switch r {
	case ChannelRoleDisabled:
		return "DISABLED"
	case ChannelRolePrimary:
		return "PRIMARY"
	case ChannelRoleSecondary:
		return "SECONDARY"
	default:
		return fmt.Sprintf("ROLE_%d", int32(r))
	}
}

// ModuleSettings 信道级模块设置
type ModuleSettings struct {
	PositionPrecision uint32
	IsClientMuted     bool
}

// ChannelSettings 信道参数
type ChannelSettings struct {
	PSK             []byte
	Name            string
	ID              uint32
	UplinkEnabled   bool
	DownlinkEnabled bool
	ModuleSettings  *ModuleSettings
}

// Channel 设备上的一个信道（索引 0..7）
type Channel struct {
	Index    int32
	Settings *ChannelSettings
	Role     ChannelRole
}

// DisabledChannel 构造指定索引的禁用信道
func DisabledChannel(index int32) *Channel {
	return &Channel{Index: index, Role: ChannelRoleDisabled}
}

func (m *ModuleSettings) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(m.PositionPrecision))
	b = appendBool(b, 2, m.IsClientMuted)
	return b, nil
}

func (m *ModuleSettings) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.PositionPrecision = uint32(f.varint)
		case 2:
			m.IsClientMuted = f.bool()
		}
		return nil
	})
}

func (s *ChannelSettings) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytes(b, 2, s.PSK)
	b = appendString(b, 3, s.Name)
	b = appendFixed32(b, 4, s.ID)
	b = appendBool(b, 5, s.UplinkEnabled)
	b = appendBool(b, 6, s.DownlinkEnabled)
	if s.ModuleSettings != nil {
		sub, _ := s.ModuleSettings.Marshal()
		b = appendMessage(b, 7, sub, true)
	}
	return b, nil
}

func (s *ChannelSettings) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 2:
			s.PSK = cloneBytes(f.bytes)
		case 3:
			s.Name = string(f.bytes)
		case 4:
			s.ID = f.fixed32
		case 5:
			s.UplinkEnabled = f.bool()
		case 6:
			s.DownlinkEnabled = f.bool()
		case 7:
			s.ModuleSettings = &ModuleSettings{}
			return s.ModuleSettings.Unmarshal(f.bytes)
		}
		return nil
	})
}

func (c *Channel) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(c.Index))
	if c.Settings != nil {
		sub, _ := c.Settings.Marshal()
		b = appendMessage(b, 2, sub, true)
	}
	b = appendVarint(b, 3, uint64(c.Role))
	return b, nil
}

func (c *Channel) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			c.Index = int32(f.varint)
		case 2:
			c.Settings = &ChannelSettings{}
			return c.Settings.Unmarshal(f.bytes)
		case 3:
			c.Role = ChannelRole(f.varint)
		}
		return nil
	})
}

// Clone 深拷贝
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	out := &Channel{Index: c.Index, Role: c.Role}
	if c.Settings != nil {
		s := *c.Settings
		s.PSK = cloneBytes(c.Settings.PSK)
		if c.Settings.ModuleSettings != nil {
			ms := *c.Settings.ModuleSettings
			s.ModuleSettings = &ms
		}
		out.Settings = &s
	}
	return out
}
