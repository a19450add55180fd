package meshpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminMessage_GetChannelRequestEncoding(t *testing.T) {
	m := &AdminMessage{GetChannelRequest: 1}
	b, err := m.Marshal()
	require.NoError(t, err)
	// field 1 varint 1
	assert.Equal(t, []byte{0x08, 0x01}, b)
}

func TestAdminMessage_PasskeyFieldNumber(t *testing.T) {
	m := &AdminMessage{BeginEditSettings: true, SessionPasskey: []byte{0xAA}}
	b, err := m.Marshal()
	require.NoError(t, err)
	// begin_edit_settings=64 (tag 0x80 0x04), session_passkey=101 (tag 0xAA 0x06)
	assert.Equal(t, []byte{0x80, 0x04, 0x01, 0xAA, 0x06, 0x01, 0xAA}, b)

	got, err := UnmarshalAdminMessage(b)
	require.NoError(t, err)
	assert.True(t, got.BeginEditSettings)
	assert.Equal(t, []byte{0xAA}, got.SessionPasskey)
	assert.Equal(t, "begin_edit_settings", got.Variant())
}

func TestAdminMessage_ChannelResponse(t *testing.T) {
	ch := &Channel{
		Index: 3,
		Role:  ChannelRoleSecondary,
		Settings: &ChannelSettings{
			PSK:             []byte{1, 2, 3, 4},
			Name:            "ops",
			ID:              0xDEADBEEF,
			UplinkEnabled:   true,
			DownlinkEnabled: true,
			ModuleSettings:  &ModuleSettings{PositionPrecision: 13, IsClientMuted: true},
		},
	}
	b, err := (&AdminMessage{GetChannelResponse: ch, SessionPasskey: []byte("pk")}).Marshal()
	require.NoError(t, err)

	got, err := UnmarshalAdminMessage(b)
	require.NoError(t, err)
	require.NotNil(t, got.GetChannelResponse)
	assert.Equal(t, ch, got.GetChannelResponse)
	assert.Equal(t, []byte("pk"), got.SessionPasskey)
}

func TestAdminMessage_ZeroValuedOneofSurvives(t *testing.T) {
	dev := ConfigDevice
	b, err := (&AdminMessage{GetConfigRequest: &dev}).Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, b)

	got, err := UnmarshalAdminMessage(b)
	require.NoError(t, err)
	require.NotNil(t, got.GetConfigRequest)
	assert.Equal(t, ConfigDevice, *got.GetConfigRequest)

	empty := ""
	b, err = (&AdminMessage{SetRingtone: &empty}).Marshal()
	require.NoError(t, err)
	got, err = UnmarshalAdminMessage(b)
	require.NoError(t, err)
	require.NotNil(t, got.SetRingtone)
	assert.Equal(t, "set_ringtone_message", got.Variant())
}

func TestConfig_VariantFromFieldNumber(t *testing.T) {
	cfg := &Config{Type: ConfigLoRa, Payload: []byte{0x08, 0x01}}
	b, err := (&AdminMessage{SetConfig: cfg}).Marshal()
	require.NoError(t, err)

	got, err := UnmarshalAdminMessage(b)
	require.NoError(t, err)
	require.NotNil(t, got.SetConfig)
	assert.Equal(t, ConfigLoRa, got.SetConfig.Type)
	assert.Equal(t, []byte{0x08, 0x01}, got.SetConfig.Payload)
	assert.Equal(t, "LORA_CONFIG", got.SetConfig.Type.String())

	_, err = (&Config{Type: 99}).Marshal()
	assert.Error(t, err)
}

func TestUnmarshal_Malformed(t *testing.T) {
	_, err := UnmarshalAdminMessage([]byte{0x12, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFromRadio_AdminPacket(t *testing.T) {
	inner, _ := (&AdminMessage{GetOwnerResponse: &User{LongName: "Base", ShortName: "BS"}}).Marshal()
	fr := &FromRadio{ID: 7, Packet: &MeshPacket{
		From: 0x1234, To: 0x5678, ID: 42,
		Decoded: &Data{PortNum: PortNumAdmin, Payload: inner, RequestID: 41},
	}}
	b, err := fr.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalFromRadio(b)
	require.NoError(t, err)
	require.NotNil(t, got.Packet)
	assert.Equal(t, uint32(0x1234), got.Packet.From)
	assert.Equal(t, PortNumAdmin, got.Packet.Decoded.PortNum)
	assert.Equal(t, uint32(41), got.Packet.Decoded.RequestID)

	am, err := UnmarshalAdminMessage(got.Packet.Decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Base", am.GetOwnerResponse.LongName)
}

func TestToRadio_Heartbeat(t *testing.T) {
	b, err := (&ToRadio{Heartbeat: true}).Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3A, 0x00}, b)

	var got ToRadio
	require.NoError(t, got.Unmarshal(b))
	assert.True(t, got.Heartbeat)
}

func TestParseConfigType(t *testing.T) {
	for _, in := range []string{"lora", "LORA_CONFIG", " LoRa ", "5"} {
		got, ok := ParseConfigType(in)
		assert.True(t, ok, in)
		assert.Equal(t, ConfigLoRa, got, in)
	}
	_, ok := ParseConfigType("radio")
	assert.False(t, ok)
	_, ok = ParseConfigType("10")
	assert.False(t, ok)

	m, ok := ParseModuleConfigType("telemetry_config")
	assert.True(t, ok)
	assert.Equal(t, ModuleTelemetry, m)
	_, ok = ParseModuleConfigType("-1")
	assert.False(t, ok)
}
