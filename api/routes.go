package api

import (
	"github.com/gin-gonic/gin"

	"github.com/SlpAus/slap-counter-backend/internal/platform/health"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
	"github.com/SlpAus/slap-counter-backend/internal/slap"
)

// Deps 是注册路由所需的处理器
type Deps struct {
	Slap   *slap.Handler
	Health *health.Checker
	// VideoPath 为空时不注册视频路由
	VideoPath string
}

// SetupRoutes 注册项目的所有API路由
func SetupRoutes(router *gin.Engine, deps Deps) {
	// 计数接口，保留旧路径
	router.POST("/increment-counter", deps.Slap.IncrementCounter)

	api := router.Group("/api")
	{
		api.POST("/slap", deps.Slap.IncrementCounter)
		api.GET("/slaps", deps.Slap.GetTotal)

		if deps.VideoPath != "" {
			// StaticFile 基于 http.ServeContent，支持 Range 请求
			api.StaticFile("/slap/video", deps.VideoPath)
		}
	}

	if deps.Health != nil {
		router.GET("/healthz", deps.Health.Handler())
	}
	router.GET("/metrics", metrics.Handler())
}
