package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
)

func TestSave_BracketsWithBeginCommit(t *testing.T) {
	d := newFakeDevice()
	var saved []uint32
	c := newTestClient(d, WithSaveHook(func(node uint32) { saved = append(saved, node) }))

	err := c.SaveConfig(context.Background(), testNode, &meshpb.Config{Type: meshpb.ConfigLoRa, Payload: []byte{0x10, 0x01}})
	require.NoError(t, err)

	assert.Equal(t, []string{"get_owner_request", "begin_edit_settings", "set_config", "commit_edit_settings"}, d.variants())
	assert.True(t, d.sentAt(0).wantResponse)
	for i := 1; i < 4; i++ {
		s := d.sentAt(i)
		assert.False(t, s.wantResponse, "set/control messages are fire-and-forget")
		assert.Equal(t, []byte{0xDE, 0xAD}, s.msg.SessionPasskey)
	}
	assert.Equal(t, []uint32{testNode}, saved)
}

func TestSave_SkipsOwnerRequestWhenPasskeyKnown(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(d)
	c.PublishIncomingAdminMessage(testNode, &meshpb.AdminMessage{SessionPasskey: []byte{0x77}})

	require.NoError(t, c.SaveOwner(context.Background(), testNode, &meshpb.User{LongName: "Relay"}))
	require.NoError(t, c.SaveCannedMessages(context.Background(), testNode, "a|b"))
	require.NoError(t, c.SaveRingtone(context.Background(), testNode, "tone"))
	require.NoError(t, c.SaveModuleConfig(context.Background(), testNode, &meshpb.ModuleConfig{Type: meshpb.ModuleTelemetry}))

	assert.Equal(t, []string{
		"begin_edit_settings", "set_owner", "commit_edit_settings",
		"begin_edit_settings", "set_canned_message_module_messages", "commit_edit_settings",
		"begin_edit_settings", "set_ringtone_message", "commit_edit_settings",
		"begin_edit_settings", "set_module_config", "commit_edit_settings",
	}, d.variants())
	assert.Equal(t, []byte{0x77}, d.sentAt(1).msg.SessionPasskey)
}

func TestSaveChannels_OneSetPerChannel(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(d)
	c.PublishIncomingAdminMessage(testNode, &meshpb.AdminMessage{SessionPasskey: []byte{0x01}})

	chans := []*meshpb.Channel{
		{Index: 0, Role: meshpb.ChannelRolePrimary, Settings: &meshpb.ChannelSettings{Name: "A"}},
		{Index: 1, Role: meshpb.ChannelRoleSecondary, Settings: &meshpb.ChannelSettings{Name: "B"}},
		meshpb.DisabledChannel(2),
	}
	require.NoError(t, c.SaveChannels(context.Background(), testNode, chans))
	assert.Equal(t, []string{"begin_edit_settings", "set_channel", "set_channel", "set_channel", "commit_edit_settings"}, d.variants())
	assert.Equal(t, int32(1), d.sentAt(2).msg.SetChannel.Index)
}

func TestSave_FailureLeavesBracketOpen(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(d)
	c.PublishIncomingAdminMessage(testNode, &meshpb.AdminMessage{SessionPasskey: []byte{0x01}})
	d.sendErr = errors.New("write failed")

	err := c.SaveConfig(context.Background(), testNode, &meshpb.Config{Type: meshpb.ConfigDevice})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin_edit_settings")
	assert.Equal(t, []string{"begin_edit_settings"}, d.variants())
}

func TestSave_PasskeyFetchTimeout(t *testing.T) {
	d := newFakeDevice()
	d.silent = true
	c := newTestClient(d, WithTimeout(20*time.Millisecond))

	err := c.SaveOwner(context.Background(), testNode, &meshpb.User{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, []string{"get_owner_request"}, d.variants())
}

func TestSave_SerializedPerNode(t *testing.T) {
	d := newFakeDevice()
	d.delay = 2 * time.Millisecond
	c := newTestClient(d)
	c.PublishIncomingAdminMessage(testNode, &meshpb.AdminMessage{SessionPasskey: []byte{0x01}})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.SaveRingtone(context.Background(), testNode, fmt.Sprintf("tone-%d", i)))
		}(i)
	}
	wg.Wait()

	v := d.variants()
	require.Len(t, v, 9)
	for i := 0; i < 9; i += 3 {
		assert.Equal(t, []string{"begin_edit_settings", "set_ringtone_message", "commit_edit_settings"}, v[i:i+3])
	}
}

func TestSave_LockRespectsContext(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(d)
	release, err := c.lockNode(context.Background(), testNode)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.SaveRingtone(ctx, testNode, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, d.variants())
}

func TestSave_UnserializedWhenDisabled(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(d, WithSerializedSaves(false))
	release, err := c.lockNode(context.Background(), testNode)
	require.NoError(t, err)
	release()
	_, err = c.lockNode(context.Background(), testNode)
	require.NoError(t, err)
	c.mu.Lock()
	assert.Empty(t, c.saveLocks)
	c.mu.Unlock()
}

func eightChannels() []*meshpb.Channel {
	out := make([]*meshpb.Channel, 8)
	for i := range out {
		role := meshpb.ChannelRoleSecondary
		if i == 0 {
			role = meshpb.ChannelRolePrimary
		}
		out[i] = &meshpb.Channel{
			Index: int32(i),
			Role:  role,
			Settings: &meshpb.ChannelSettings{
				Name:            fmt.Sprintf("ch%d", i),
				PSK:             []byte{byte(i), 0x01},
				ID:              uint32(100 + i),
				UplinkEnabled:   i%2 == 0,
				DownlinkEnabled: true,
				ModuleSettings:  &meshpb.ModuleSettings{PositionPrecision: 13},
			},
		}
	}
	return out
}

func TestSaveChannelsVerified_PersistentMismatchAtIndexZero(t *testing.T) {
	d := newFakeDevice()
	// 设备不接受 0 号信道改名
	d.onSet = func(ch *meshpb.Channel) *meshpb.Channel {
		if ch.Index == 0 {
			ch.Settings.Name = "LongFast"
		}
		return ch
	}
	c := newTestClient(d)

	err := c.SaveChannelsVerified(context.Background(), testNode, eightChannels())
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, []int{0}, mm.Indices)
	assert.Equal(t, testNode, mm.Node)

	assert.Equal(t, 2, d.count("begin_edit_settings"), "exactly one re-save")
	assert.Equal(t, 2, d.count("commit_edit_settings"))
	assert.Equal(t, 16, d.count("set_channel"))
	assert.Equal(t, 16, d.count("get_channel_request"))
}

func TestSaveChannelsVerified_RetrySucceeds(t *testing.T) {
	d := newFakeDevice()
	var once sync.Once
	d.onSet = func(ch *meshpb.Channel) *meshpb.Channel {
		if ch.Index == 0 {
			once.Do(func() { ch.Settings.Name = "stale" })
		}
		return ch
	}
	c := newTestClient(d)

	require.NoError(t, c.SaveChannelsVerified(context.Background(), testNode, eightChannels()))
	assert.Equal(t, 2, d.count("begin_edit_settings"))
}

func TestSaveChannelsVerified_MatchFirstTime(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(d)
	require.NoError(t, c.SaveChannelsVerified(context.Background(), testNode, eightChannels()))
	assert.Equal(t, 1, d.count("begin_edit_settings"))
}

func TestChannelsEquivalent(t *testing.T) {
	base := func() *meshpb.Channel { return eightChannels()[1] }

	tests := []struct {
		name   string
		mutate func(*meshpb.Channel)
		equal  bool
	}{
		{"identical", func(*meshpb.Channel) {}, true},
		{"name whitespace", func(c *meshpb.Channel) { c.Settings.Name = "  ch1 " }, true},
		{"name", func(c *meshpb.Channel) { c.Settings.Name = "other" }, false},
		{"role", func(c *meshpb.Channel) { c.Role = meshpb.ChannelRolePrimary }, false},
		{"psk", func(c *meshpb.Channel) { c.Settings.PSK = []byte{0xFF} }, false},
		{"id", func(c *meshpb.Channel) { c.Settings.ID++ }, false},
		{"uplink", func(c *meshpb.Channel) { c.Settings.UplinkEnabled = !c.Settings.UplinkEnabled }, false},
		{"downlink", func(c *meshpb.Channel) { c.Settings.DownlinkEnabled = false }, false},
		{"precision", func(c *meshpb.Channel) { c.Settings.ModuleSettings.PositionPrecision = 32 }, false},
		{"muted", func(c *meshpb.Channel) { c.Settings.ModuleSettings.IsClientMuted = true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := base()
			tt.mutate(b)
			assert.Equal(t, tt.equal, ChannelsEquivalent(base(), b))
		})
	}

	t.Run("disabled ignores settings", func(t *testing.T) {
		a := &meshpb.Channel{Index: 3, Settings: &meshpb.ChannelSettings{Name: "x"}}
		assert.True(t, ChannelsEquivalent(a, meshpb.DisabledChannel(3)))
	})
	t.Run("nil module settings equal zero", func(t *testing.T) {
		a := &meshpb.Channel{Role: meshpb.ChannelRoleSecondary, Settings: &meshpb.ChannelSettings{Name: "n"}}
		b := &meshpb.Channel{Role: meshpb.ChannelRoleSecondary, Settings: &meshpb.ChannelSettings{Name: "n", ModuleSettings: &meshpb.ModuleSettings{}}}
		assert.True(t, ChannelsEquivalent(a, b))
	})
}

func TestDiffChannels_MissingCountsAsMismatch(t *testing.T) {
	want := eightChannels()[:3]
	assert.Equal(t, []int{2}, DiffChannels(want, want[:2]))
	assert.Empty(t, DiffChannels(want, eightChannels()[:3]))
}
