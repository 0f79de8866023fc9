package router

import (
	"deltaflow/internal/handler/debug"
	"deltaflow/internal/handler/ping"
	"deltaflow/internal/handler/webhook"
	"deltaflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	wh *webhook.Handler
	dh *debug.Handler
}

func NewApiRouter(wh *webhook.Handler, dh *debug.Handler) *ApiRouter {
	return &ApiRouter{wh: wh, dh: dh}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId(), middleware.Logger, gin.Recovery())

	// 上游图表平台的信号入口
	g.POST("/tv", api.wh.HandlerWebhook())

	g.GET("/ping", ping.Ping())
	g.GET("/health", ping.Ping())
	g.GET("/healthz", ping.Ping())

	d := g.Group("/debug")
	{
		d.GET("/seen", api.dh.Seen())
		d.GET("/chain", api.dh.Chain())
	}
}
