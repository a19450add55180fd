package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/admin"
	"github.com/rvenes/MeshVenes-sub000/internal/endpoint"
	"github.com/rvenes/MeshVenes-sub000/internal/protocol/meshpb"
	"github.com/rvenes/MeshVenes-sub000/internal/radio"
	"github.com/rvenes/MeshVenes-sub000/internal/reconnect"
	"github.com/rvenes/MeshVenes-sub000/internal/transport"
)

// Link 链路持有者（radio.Session 实现）
type Link interface {
	Status() radio.Status
	MyNodeNum() uint32
	Connect(ctx context.Context, ep endpoint.Endpoint) error
	Disconnect() error
	SendText(ctx context.Context, text string, to *uint32) error
	RecentLog(n int) []string
}

// Admin 管理协议客户端（admin.Client 实现）
type Admin interface {
	GetOwner(ctx context.Context, node uint32) (*meshpb.User, error)
	SaveOwner(ctx context.Context, node uint32, owner *meshpb.User) error
	GetChannels(ctx context.Context, node uint32, max int) ([]*meshpb.Channel, error)
	SaveChannelsVerified(ctx context.Context, node uint32, channels []*meshpb.Channel) error
	GetConfig(ctx context.Context, node uint32, typ meshpb.ConfigType) (*meshpb.Config, error)
	SaveConfig(ctx context.Context, node uint32, cfg *meshpb.Config) error
	GetModuleConfig(ctx context.Context, node uint32, typ meshpb.ModuleConfigType) (*meshpb.ModuleConfig, error)
	SaveModuleConfig(ctx context.Context, node uint32, cfg *meshpb.ModuleConfig) error
	GetCannedMessages(ctx context.Context, node uint32) (string, error)
	SaveCannedMessages(ctx context.Context, node uint32, messages string) error
	GetRingtone(ctx context.Context, node uint32) (string, error)
	SaveRingtone(ctx context.Context, node uint32, ringtone string) error
}

// Reconnector 重连编排器（reconnect.Orchestrator 实现）
type Reconnector interface {
	TryReconnectAfterSave(ctx context.Context) bool
	State() reconnect.State
	Watching() bool
}

const (
	defaultLogLines = 50
	maxChannels     = 8
)

// Handler 控制接口；base 为后台重连使用的进程级上下文
type Handler struct {
	base      context.Context
	link      Link
	admin     Admin
	reconnect Reconnector
	logger    *zap.Logger
}

func NewHandler(base context.Context, link Link, adm Admin, rc Reconnector, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{base: base, link: link, admin: adm, reconnect: rc, logger: logger}
}

// fail 按错误类别映射状态码
func (h *Handler) fail(c *gin.Context, op string, err error) {
	code := http.StatusBadGateway
	var mismatch *admin.MismatchError
	switch {
	case errors.Is(err, admin.ErrTimeout):
		code = http.StatusGatewayTimeout
	case transport.IsNotConnected(err):
		code = http.StatusServiceUnavailable
	case errors.As(err, &mismatch):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	h.logger.Warn("api request failed", zap.String("op", op), zap.Int("code", code), zap.Error(err))
	body := gin.H{"error": op + " failed", "detail": err.Error()}
	if mismatch != nil {
		body["indices"] = mismatch.Indices
	}
	c.JSON(code, body)
}

// node 解析路径中的节点号；"local" 表示本机节点
func (h *Handler) node(c *gin.Context) (uint32, bool) {
	raw := c.Param("node")
	if raw == "local" {
		n := h.link.MyNodeNum()
		if n == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "local node number unknown"})
			return 0, false
		}
		return n, true
	}
	n, err := parseNode(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return n, true
}

func (h *Handler) Status(c *gin.Context) {
	resp := gin.H{"link": h.link.Status()}
	if h.reconnect != nil {
		resp["reconnect"] = gin.H{"state": h.reconnect.State().String(), "watching": h.reconnect.Watching()}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Log(c *gin.Context) {
	n := defaultLogLines
	if s := c.Query("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		n = v
	}
	c.JSON(http.StatusOK, gin.H{"lines": h.link.RecentLog(n)})
}

func (h *Handler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ep, err := req.endpoint()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.link.Connect(c.Request.Context(), ep); err != nil {
		h.fail(c, "connect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": h.link.Status()})
}

func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.link.Disconnect(); err != nil {
		h.fail(c, "disconnect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": h.link.Status()})
}

// Reconnect 在后台运行一次重连序列
func (h *Handler) Reconnect(c *gin.Context) {
	if h.reconnect == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reconnect disabled"})
		return
	}
	go h.reconnect.TryReconnectAfterSave(h.base)
	c.JSON(http.StatusAccepted, gin.H{"message": "reconnect started"})
}

func (h *Handler) SendText(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.link.SendText(c.Request.Context(), req.Text, req.To); err != nil {
		h.fail(c, "send text", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (h *Handler) GetOwner(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	u, err := h.admin.GetOwner(c.Request.Context(), node)
	if err != nil {
		h.fail(c, "get owner", err)
		return
	}
	c.JSON(http.StatusOK, ownerFrom(u))
}

func (h *Handler) SaveOwner(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	var body OwnerDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.admin.SaveOwner(c.Request.Context(), node, body.user()); err != nil {
		h.fail(c, "save owner", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (h *Handler) GetChannels(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	limit := maxChannels
	if s := c.Query("max"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxChannels {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max must be 1..8"})
			return
		}
		limit = v
	}
	chans, err := h.admin.GetChannels(c.Request.Context(), node, limit)
	if err != nil {
		h.fail(c, "get channels", err)
		return
	}
	out := make([]ChannelDTO, 0, len(chans))
	for _, ch := range chans {
		out = append(out, channelFrom(ch))
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// SaveChannels 保存并回读校验
func (h *Handler) SaveChannels(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	var body []ChannelDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) == 0 || len(body) > maxChannels {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected 1..8 channels"})
		return
	}
	chans := make([]*meshpb.Channel, 0, len(body))
	for i, d := range body {
		if int(d.Index) != i {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel indices must be 0..n-1 in order"})
			return
		}
		ch, err := d.channel()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		chans = append(chans, ch)
	}
	if err := h.admin.SaveChannelsVerified(c.Request.Context(), node, chans); err != nil {
		h.fail(c, "save channels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "verified": true})
}

func (h *Handler) GetConfig(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	typ, ok := meshpb.ParseConfigType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown config type"})
		return
	}
	cfg, err := h.admin.GetConfig(c.Request.Context(), node, typ)
	if err != nil {
		h.fail(c, "get config", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": cfg.Type.String(), "payload": cfg.Payload})
}

func (h *Handler) SaveConfig(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	typ, ok := meshpb.ParseConfigType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown config type"})
		return
	}
	var body PayloadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.admin.SaveConfig(c.Request.Context(), node, &meshpb.Config{Type: typ, Payload: body.Payload}); err != nil {
		h.fail(c, "save config", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (h *Handler) GetModuleConfig(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	typ, ok := meshpb.ParseModuleConfigType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown module config type"})
		return
	}
	cfg, err := h.admin.GetModuleConfig(c.Request.Context(), node, typ)
	if err != nil {
		h.fail(c, "get module config", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": cfg.Type.String(), "payload": cfg.Payload})
}

func (h *Handler) SaveModuleConfig(c *gin.Context) {
	node, ok := h.node(c)
	if !ok {
		return
	}
	typ, ok := meshpb.ParseModuleConfigType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown module config type"})
		return
	}
	var body PayloadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.admin.SaveModuleConfig(c.Request.Context(), node, &meshpb.ModuleConfig{Type: typ, Payload: body.Payload}); err != nil {
		h.fail(c, "save module config", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// getText 与 saveText 供罐头消息和铃声共用
func (h *Handler) getText(op string, get func(context.Context, uint32) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		node, ok := h.node(c)
		if !ok {
			return
		}
		v, err := get(c.Request.Context(), node)
		if err != nil {
			h.fail(c, op, err)
			return
		}
		c.JSON(http.StatusOK, TextBody{Value: v})
	}
}

func (h *Handler) saveText(op string, save func(context.Context, uint32, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		node, ok := h.node(c)
		if !ok {
			return
		}
		var body TextBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := save(c.Request.Context(), node, body.Value); err != nil {
			h.fail(c, op, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": true})
	}
}
