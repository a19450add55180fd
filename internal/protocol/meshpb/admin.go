package meshpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// AdminMessage 字段号
const (
	fieldGetChannelRequest        protowire.Number = 1
	fieldGetChannelResponse       protowire.Number = 2
	fieldGetOwnerRequest          protowire.Number = 3
	fieldGetOwnerResponse         protowire.Number = 4
	fieldGetConfigRequest         protowire.Number = 5
	fieldGetConfigResponse        protowire.Number = 6
	fieldGetModuleConfigRequest   protowire.Number = 7
	fieldGetModuleConfigResponse  protowire.Number = 8
	fieldGetCannedMessageRequest  protowire.Number = 10
	fieldGetCannedMessageResponse protowire.Number = 11
	fieldGetRingtoneRequest       protowire.Number = 14
	fieldGetRingtoneResponse      protowire.Number = 15
	fieldSetOwner                 protowire.Number = 32
	fieldSetChannel               protowire.Number = 33
	fieldSetConfig                protowire.Number = 34
	fieldSetModuleConfig          protowire.Number = 35
	fieldSetCannedMessages        protowire.Number = 36
	fieldSetRingtone              protowire.Number = 37
	fieldBeginEditSettings        protowire.Number = 64
	fieldCommitEditSettings       protowire.Number = 65
	fieldSessionPasskey           protowire.Number = 101
)

// AdminMessage 管理协议信封。除 SessionPasskey 外同一时刻只应设置一个变体。
//
// GetChannelRequest 按设备约定携带 index+1，0 表示未设置。
type AdminMessage struct {
	SessionPasskey []byte

	GetChannelRequest        uint32
	GetChannelResponse       *Channel
	GetOwnerRequest          bool
	GetOwnerResponse         *User
	GetConfigRequest         *ConfigType
	GetConfigResponse        *Config
	GetModuleConfigRequest   *ModuleConfigType
	GetModuleConfigResponse  *ModuleConfig
	GetCannedMessageRequest  bool
	GetCannedMessageResponse *string
	GetRingtoneRequest       bool
	GetRingtoneResponse      *string

	SetOwner          *User
	SetChannel        *Channel
	SetConfig         *Config
	SetModuleConfig   *ModuleConfig
	SetCannedMessages *string
	SetRingtone       *string

	BeginEditSettings  bool
	CommitEditSettings bool
}

// Variant 返回已设置变体的名称，用于日志
func (m *AdminMessage) Variant() string {
	switch {
	case m.GetChannelRequest != 0:
		return "get_channel_request"
	case m.GetChannelResponse != nil:
		return "get_channel_response"
	case m.GetOwnerRequest:
		return "get_owner_request"
	case m.GetOwnerResponse != nil:
		return "get_owner_response"
	case m.GetConfigRequest != nil:
		return "get_config_request"
	case m.GetConfigResponse != nil:
		return "get_config_response"
	case m.GetModuleConfigRequest != nil:
		return "get_module_config_request"
	case m.GetModuleConfigResponse != nil:
		return "get_module_config_response"
	case m.GetCannedMessageRequest:
		return "get_canned_message_module_messages_request"
	case m.GetCannedMessageResponse != nil:
		return "get_canned_message_module_messages_response"
	case m.GetRingtoneRequest:
		return "get_ringtone_request"
	case m.GetRingtoneResponse != nil:
		return "get_ringtone_response"
	case m.SetOwner != nil:
		return "set_owner"
	case m.SetChannel != nil:
		return "set_channel"
	case m.SetConfig != nil:
		return "set_config"
	case m.SetModuleConfig != nil:
		return "set_module_config"
	case m.SetCannedMessages != nil:
		return "set_canned_message_module_messages"
	case m.SetRingtone != nil:
		return "set_ringtone_message"
	case m.BeginEditSettings:
		return "begin_edit_settings"
	case m.CommitEditSettings:
		return "commit_edit_settings"
	default:
		return "none"
	}
}

type marshaler interface{ Marshal() ([]byte, error) }

func appendSub(b []byte, num protowire.Number, m marshaler) ([]byte, error) {
	sub, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return appendMessage(b, num, sub, true), nil
}

func (m *AdminMessage) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case m.GetChannelRequest != 0:
		b = appendOneofVarint(b, fieldGetChannelRequest, uint64(m.GetChannelRequest))
	case m.GetChannelResponse != nil:
		b, err = appendSub(b, fieldGetChannelResponse, m.GetChannelResponse)
	case m.GetOwnerRequest:
		b = appendOneofVarint(b, fieldGetOwnerRequest, 1)
	case m.GetOwnerResponse != nil:
		b, err = appendSub(b, fieldGetOwnerResponse, m.GetOwnerResponse)
	case m.GetConfigRequest != nil:
		b = appendOneofVarint(b, fieldGetConfigRequest, uint64(*m.GetConfigRequest))
	case m.GetConfigResponse != nil:
		b, err = appendSub(b, fieldGetConfigResponse, m.GetConfigResponse)
	case m.GetModuleConfigRequest != nil:
		b = appendOneofVarint(b, fieldGetModuleConfigRequest, uint64(*m.GetModuleConfigRequest))
	case m.GetModuleConfigResponse != nil:
		b, err = appendSub(b, fieldGetModuleConfigResponse, m.GetModuleConfigResponse)
	case m.GetCannedMessageRequest:
		b = appendOneofVarint(b, fieldGetCannedMessageRequest, 1)
	case m.GetCannedMessageResponse != nil:
		b = appendOneofString(b, fieldGetCannedMessageResponse, *m.GetCannedMessageResponse)
	case m.GetRingtoneRequest:
		b = appendOneofVarint(b, fieldGetRingtoneRequest, 1)
	case m.GetRingtoneResponse != nil:
		b = appendOneofString(b, fieldGetRingtoneResponse, *m.GetRingtoneResponse)
	case m.SetOwner != nil:
		b, err = appendSub(b, fieldSetOwner, m.SetOwner)
	case m.SetChannel != nil:
		b, err = appendSub(b, fieldSetChannel, m.SetChannel)
	case m.SetConfig != nil:
		b, err = appendSub(b, fieldSetConfig, m.SetConfig)
	case m.SetModuleConfig != nil:
		b, err = appendSub(b, fieldSetModuleConfig, m.SetModuleConfig)
	case m.SetCannedMessages != nil:
		b = appendOneofString(b, fieldSetCannedMessages, *m.SetCannedMessages)
	case m.SetRingtone != nil:
		b = appendOneofString(b, fieldSetRingtone, *m.SetRingtone)
	case m.BeginEditSettings:
		b = appendOneofVarint(b, fieldBeginEditSettings, 1)
	case m.CommitEditSettings:
		b = appendOneofVarint(b, fieldCommitEditSettings, 1)
	}
	if err != nil {
		return nil, fmt.Errorf("meshpb: admin %s: %w", m.Variant(), err)
	}
	b = appendBytes(b, fieldSessionPasskey, m.SessionPasskey)
	return b, nil
}

func (m *AdminMessage) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case fieldGetChannelRequest:
			m.GetChannelRequest = uint32(f.varint)
		case fieldGetChannelResponse:
			m.GetChannelResponse = &Channel{}
			return m.GetChannelResponse.Unmarshal(f.bytes)
		case fieldGetOwnerRequest:
			m.GetOwnerRequest = f.bool()
		case fieldGetOwnerResponse:
			m.GetOwnerResponse = &User{}
			return m.GetOwnerResponse.Unmarshal(f.bytes)
		case fieldGetConfigRequest:
			t := ConfigType(f.varint)
			m.GetConfigRequest = &t
		case fieldGetConfigResponse:
			m.GetConfigResponse = &Config{}
			return m.GetConfigResponse.Unmarshal(f.bytes)
		case fieldGetModuleConfigRequest:
			t := ModuleConfigType(f.varint)
			m.GetModuleConfigRequest = &t
		case fieldGetModuleConfigResponse:
			m.GetModuleConfigResponse = &ModuleConfig{}
			return m.GetModuleConfigResponse.Unmarshal(f.bytes)
		case fieldGetCannedMessageRequest:
			m.GetCannedMessageRequest = f.bool()
		case fieldGetCannedMessageResponse:
			s := string(f.bytes)
			m.GetCannedMessageResponse = &s
		case fieldGetRingtoneRequest:
			m.GetRingtoneRequest = f.bool()
		case fieldGetRingtoneResponse:
			s := string(f.bytes)
			m.GetRingtoneResponse = &s
		case fieldSetOwner:
			m.SetOwner = &User{}
			return m.SetOwner.Unmarshal(f.bytes)
		case fieldSetChannel:
			m.SetChannel = &Channel{}
			return m.SetChannel.Unmarshal(f.bytes)
		case fieldSetConfig:
			m.SetConfig = &Config{}
			return m.SetConfig.Unmarshal(f.bytes)
		case fieldSetModuleConfig:
			m.SetModuleConfig = &ModuleConfig{}
			return m.SetModuleConfig.Unmarshal(f.bytes)
		case fieldSetCannedMessages:
			s := string(f.bytes)
			m.SetCannedMessages = &s
		case fieldSetRingtone:
			s := string(f.bytes)
			m.SetRingtone = &s
		case fieldBeginEditSettings:
			m.BeginEditSettings = f.bool()
		case fieldCommitEditSettings:
			m.CommitEditSettings = f.bool()
		case fieldSessionPasskey:
			m.SessionPasskey = cloneBytes(f.bytes)
		}
		return nil
	})
}

// UnmarshalAdminMessage 解码管理消息
func UnmarshalAdminMessage(b []byte) (*AdminMessage, error) {
	m := &AdminMessage{}
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}
