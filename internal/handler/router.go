package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nl2sql-go/internal/metrics"
	"nl2sql-go/internal/middleware"
)

// NewRouter 装配HTTP路由与中间件链
func NewRouter(h *QueryHandler, m *metrics.Metrics, logger *zap.Logger, environment string) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.RateLimit(100, 200),
	)

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/query", h.Query)
		v1.GET("/databases", h.ListDatabases)
	}

	return router
}
