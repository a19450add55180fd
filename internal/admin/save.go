package admin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
)

// 保存事务：确保 passkey → begin edit → set... → commit edit。
// 各步均不等待应答，中途失败不回滚；结果由调用方回读确认。

func (c *Client) SaveConfig(ctx context.Context, node uint32, cfg *meshpb.Config) error {
	return c.save(ctx, node, "save_config", &meshpb.AdminMessage{SetConfig: cfg})
}

func (c *Client) SaveModuleConfig(ctx context.Context, node uint32, cfg *meshpb.ModuleConfig) error {
	return c.save(ctx, node, "save_module_config", &meshpb.AdminMessage{SetModuleConfig: cfg})
}

// SaveChannels 每个信道一条 set_channel，按给定顺序发送
func (c *Client) SaveChannels(ctx context.Context, node uint32, channels []*meshpb.Channel) error {
	sets := make([]*meshpb.AdminMessage, 0, len(channels))
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		sets = append(sets, &meshpb.AdminMessage{SetChannel: ch})
	}
	return c.save(ctx, node, "save_channels", sets...)
}

func (c *Client) SaveOwner(ctx context.Context, node uint32, owner *meshpb.User) error {
	return c.save(ctx, node, "save_owner", &meshpb.AdminMessage{SetOwner: owner})
}

func (c *Client) SaveCannedMessages(ctx context.Context, node uint32, messages string) error {
	return c.save(ctx, node, "save_canned_messages", &meshpb.AdminMessage{SetCannedMessages: &messages})
}

func (c *Client) SaveRingtone(ctx context.Context, node uint32, ringtone string) error {
	return c.save(ctx, node, "save_ringtone", &meshpb.AdminMessage{SetRingtone: &ringtone})
}

func (c *Client) save(ctx context.Context, node uint32, op string, sets ...*meshpb.AdminMessage) error {
	release, err := c.lockNode(ctx, node)
	if err != nil {
		return err
	}
	defer release()

	if err := c.ensurePasskey(ctx, node); err != nil {
		c.observer.Record(op, "error")
		return fmt.Errorf("admin: %s: session passkey for %d: %w", op, node, err)
	}

	steps := make([]*meshpb.AdminMessage, 0, len(sets)+2)
	steps = append(steps, &meshpb.AdminMessage{BeginEditSettings: true})
	steps = append(steps, sets...)
	steps = append(steps, &meshpb.AdminMessage{CommitEditSettings: true})
	for _, m := range steps {
		if err := c.send(ctx, node, m, false); err != nil {
			c.observer.Record(op, "error")
			return fmt.Errorf("admin: %s: %s to %d: %w", op, m.Variant(), node, err)
		}
	}

	c.observer.Record(op, "ok")
	c.logger.Info("admin save sent", zap.String("op", op), zap.Uint32("node", node), zap.Int("sets", len(sets)))
	if c.onSaved != nil {
		c.onSaved(node)
	}
	return nil
}

// ensurePasskey 任何管理应答都携带 passkey，缺失时用一次 get owner 获取
func (c *Client) ensurePasskey(ctx context.Context, node uint32) error {
	if _, ok := c.Passkey(node); ok {
		return nil
	}
	if _, err := c.GetOwner(ctx, node); err != nil {
		return err
	}
	if _, ok := c.Passkey(node); !ok {
		c.logger.Debug("device did not return a session passkey", zap.Uint32("node", node))
	}
	return nil
}

// lockNode 同一节点的保存事务互斥；未开启时直接放行
func (c *Client) lockNode(ctx context.Context, node uint32) (func(), error) {
	if !c.serialize {
		return func() {}, nil
	}
	c.mu.Lock()
	sem, ok := c.saveLocks[node]
	if !ok {
		sem = make(chan struct{}, 1)
		c.saveLocks[node] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
