package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/api/middleware"
)

// RegisterRoutes 注册 /api 控制路由
func RegisterRoutes(r gin.IRouter, h *Handler, auth middleware.AuthConfig, logger *zap.Logger) {
	g := r.Group("/api", middleware.APIKeyAuth(auth, logger))
	{
		g.GET("/status", h.Status)
		g.GET("/log", h.Log)

		g.POST("/link/connect", h.Connect)
		g.POST("/link/disconnect", h.Disconnect)
		g.POST("/link/reconnect", h.Reconnect)
		g.POST("/text", h.SendText)
	}

	nodes := g.Group("/nodes/:node")
	{
		nodes.GET("/owner", h.GetOwner)
		nodes.PUT("/owner", h.SaveOwner)
		nodes.GET("/channels", h.GetChannels)
		nodes.PUT("/channels", h.SaveChannels)
		nodes.GET("/config/:type", h.GetConfig)
		nodes.PUT("/config/:type", h.SaveConfig)
		nodes.GET("/module-config/:type", h.GetModuleConfig)
		nodes.PUT("/module-config/:type", h.SaveModuleConfig)
		nodes.GET("/canned-messages", h.getText("get canned messages", h.admin.GetCannedMessages))
		nodes.PUT("/canned-messages", h.saveText("save canned messages", h.admin.SaveCannedMessages))
		nodes.GET("/ringtone", h.getText("get ringtone", h.admin.GetRingtone))
		nodes.PUT("/ringtone", h.saveText("save ringtone", h.admin.SaveRingtone))
	}
}
