package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/SlpAus/slap-counter-backend/pkg/clientid"
)

// RequestIDHeader 是上下游传递请求ID使用的头
const RequestIDHeader = "X-Request-ID"

// GinMiddleware 为每个请求分配请求ID，并在请求结束后输出一行访问日志。
// 已经带有 X-Request-ID 的请求（来自上游代理）沿用原ID。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(ContextWithRequestID(c.Request.Context(), requestID))

		c.Next()

		status := c.Writer.Status()
		event := Ctx(c.Request.Context()).Info()
		if status >= 500 {
			event = Ctx(c.Request.Context()).Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Str("client", clientid.Hash(clientid.FromHeaders(c.GetHeader))).
			Dur("latency", time.Since(start)).
			Msg("请求完成")
	}
}
