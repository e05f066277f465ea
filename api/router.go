package api

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/slap"
)

// NewRouter 创建带有中间件的gin引擎并注册所有路由
func NewRouter(cfg config.ServerConfig, deps Deps) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware())
	r.Use(cors.New(corsConfig(cfg.Cors)))

	SetupRoutes(r, deps)
	return r
}

func corsConfig(cfg config.CorsConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", slap.ActionIDHeader, logging.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", logging.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = cfg.AllowedOrigins
	c.AllowCredentials = true
	return c
}
