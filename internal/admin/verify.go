package admin

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
)

// MismatchError 重试后回读仍与期望不一致
type MismatchError struct {
	Node    uint32
	Indices []int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("admin: channels on node %d differ after save at indices %v", e.Node, e.Indices)
}

// ChannelsEquivalent 角色相同；非禁用信道再比较名称（去首尾空白）、ID、上下行、PSK、定位精度与静音
func ChannelsEquivalent(a, b *meshpb.Channel) bool {
	ra, rb := roleOf(a), roleOf(b)
	if ra != rb {
		return false
	}
	if ra == meshpb.ChannelRoleDisabled {
		return true
	}
	sa, sb := settingsOf(a), settingsOf(b)
	ma, mb := moduleOf(sa), moduleOf(sb)
	return strings.TrimSpace(sa.Name) == strings.TrimSpace(sb.Name) &&
		sa.ID == sb.ID &&
		sa.UplinkEnabled == sb.UplinkEnabled &&
		sa.DownlinkEnabled == sb.DownlinkEnabled &&
		bytes.Equal(sa.PSK, sb.PSK) &&
		ma.PositionPrecision == mb.PositionPrecision &&
		ma.IsClientMuted == mb.IsClientMuted
}

// DiffChannels 逐位置比较，缺失的一侧视为不一致
func DiffChannels(want, got []*meshpb.Channel) []int {
	var diff []int
	for i, w := range want {
		if i >= len(got) || !ChannelsEquivalent(w, got[i]) {
			diff = append(diff, i)
		}
	}
	return diff
}

// SaveChannelsVerified 保存后回读比较，不一致时重存并复核一次
func (c *Client) SaveChannelsVerified(ctx context.Context, node uint32, channels []*meshpb.Channel) error {
	var diff []int
	for attempt := 1; attempt <= 2; attempt++ {
		if err := c.SaveChannels(ctx, node, channels); err != nil {
			return err
		}
		got, err := c.GetChannels(ctx, node, len(channels))
		if err != nil {
			return fmt.Errorf("admin: verify channels on %d: %w", node, err)
		}
		if diff = DiffChannels(channels, got); len(diff) == 0 {
			c.observer.Record("verify_channels", "ok")
			return nil
		}
		c.logger.Warn("channel save mismatch",
			zap.Uint32("node", node),
			zap.Int("attempt", attempt),
			zap.Ints("indices", diff))
	}
	c.observer.Record("verify_channels", "mismatch")
	return &MismatchError{Node: node, Indices: diff}
}

func roleOf(c *meshpb.Channel) meshpb.ChannelRole {
	if c == nil {
		return meshpb.ChannelRoleDisabled
	}
	return c.Role
}

func settingsOf(c *meshpb.Channel) meshpb.ChannelSettings {
	if c == nil || c.Settings == nil {
		return meshpb.ChannelSettings{}
	}
	return *c.Settings
}

func moduleOf(s meshpb.ChannelSettings) meshpb.ModuleSettings {
	if s.ModuleSettings == nil {
		return meshpb.ModuleSettings{}
	}
	return *s.ModuleSettings
}
