package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rmaciel7/aide/internal/observability"
)

// NewRouter wires the local API routes. The router is served over the
// session's Unix socket, never a TCP port.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	v1 := router.Group("/v1")
	{
		v1.GET("/status", h.Status)
		v1.GET("/messages", h.ListMessages)
		v1.POST("/messages", h.SendMessage)
		v1.GET("/scheduled", h.ListScheduled)
		v1.POST("/scheduled/generate", h.GenerateScheduled)
		v1.DELETE("/conversations/:id", h.DeleteConversation)
		v1.POST("/tts", h.TTS)
		v1.GET("/events", h.Events)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
