package slap

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SlpAus/slap-counter-backend/internal/platform/logging"
	"github.com/SlpAus/slap-counter-backend/internal/platform/metrics"
	"github.com/SlpAus/slap-counter-backend/pkg/clientid"
)

// ActionIDHeader 是携带幂等动作ID的请求头
const ActionIDHeader = "X-Action-Id"

// 返回给调用方的错误码，不包含任何内部错误信息
const (
	codeRateLimited   = "rate_limited"
	codeDBUnavailable = "db_unavailable"
	codeServerError   = "server_error"
)

// IncrementResponse 是计数成功（包括重复请求）时的响应体
type IncrementResponse struct {
	OK         bool   `json:"ok"`
	TotalSlaps *int64 `json:"totalSlaps"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// TotalResponse 是读取总数的响应体
type TotalResponse struct {
	TotalSlaps *int64 `json:"totalSlaps"`
}

// ErrorResponse 是失败时的响应体
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler 把 Service 暴露为HTTP接口
type Handler struct {
	svc *Service
}

// NewHandler 创建 Handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// IncrementCounter 处理一次计数请求。请求体被忽略。
func (h *Handler) IncrementCounter(c *gin.Context) {
	start := time.Now()
	defer func() { metrics.RequestDuration.Observe(time.Since(start).Seconds()) }()

	ctx := c.Request.Context()
	req := Request{
		Identity: clientid.FromHeaders(c.GetHeader),
		ActionID: c.GetHeader(ActionIDHeader),
	}

	res, err := h.svc.Slap(ctx, req)
	switch {
	case err == nil:
		outcome := "ok"
		if res.Duplicate {
			outcome = "duplicate"
		}
		metrics.SlapRequests.WithLabelValues(outcome).Inc()
		c.JSON(http.StatusOK, IncrementResponse{OK: true, TotalSlaps: res.Total, Duplicate: res.Duplicate})

	case errors.Is(err, ErrRateLimited):
		metrics.SlapRequests.WithLabelValues(codeRateLimited).Inc()
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: codeRateLimited})

	case errors.Is(err, ErrStorageUnready):
		metrics.SlapRequests.WithLabelValues(codeDBUnavailable).Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("计数失败: 存储尚未就绪")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: codeDBUnavailable})

	default:
		metrics.SlapRequests.WithLabelValues(codeServerError).Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("计数失败")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: codeServerError})
	}
}

// GetTotal 返回当前总数，读取失败时 totalSlaps 为null
func (h *Handler) GetTotal(c *gin.Context) {
	c.JSON(http.StatusOK, TotalResponse{TotalSlaps: h.svc.CurrentTotal(c.Request.Context())})
}
