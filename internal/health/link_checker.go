package health

import (
	"context"
	"time"
)

// LinkProbe 设备链路状态来源（radio.Session 实现）
type LinkProbe interface {
	IsConnected() bool
	MyNodeNum() uint32
}

// LinkChecker 链路在线为健康；离线但正在重连为降级
type LinkChecker struct {
	link         LinkProbe
	reconnecting func() bool
}

func NewLinkChecker(link LinkProbe, reconnecting func() bool) *LinkChecker {
	return &LinkChecker{link: link, reconnecting: reconnecting}
}

func (c *LinkChecker) Name() string { return "link" }

func (c *LinkChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if c.link.IsConnected() {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "connected",
			Details: map[string]interface{}{"my_node_num": c.link.MyNodeNum()},
			Latency: time.Since(start),
		}
	}
	if c.reconnecting != nil && c.reconnecting() {
		return CheckResult{Status: StatusDegraded, Message: "reconnecting", Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusUnhealthy, Message: "not connected", Latency: time.Since(start)}
}
