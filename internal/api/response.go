package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"civy/internal/api/middleware"
	"civy/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)                { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string)      { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)       { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)        { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)        { Error(c, http.StatusConflict, msg) }
func TooManyRequests(c *gin.Context, msg string) { Error(c, http.StatusTooManyRequests, msg) }
func Internal(c *gin.Context, msg string)        { Error(c, http.StatusInternalServerError, msg) }

// respondError 把业务错误映射为 HTTP 状态码，未知错误记录日志后返回 500。
func respondError(c *gin.Context, err error) {
	var verr *errcode.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, errcode.ErrNotAuthenticated):
		Unauthorized(c)
	case errors.Is(err, errcode.ErrNotFound):
		NotFound(c, "not found")
	case errors.Is(err, errcode.ErrLimitExceeded):
		Forbidden(c, err.Error())
	case errors.Is(err, errcode.ErrCancelled):
		// 客户端已断开，无需响应体。
		c.Status(499)
	case errors.Is(err, errcode.ErrGenerationFailed):
		middleware.LoggerFromContext(c).Error("document generation failed", slog.Any("error", err))
		Internal(c, "document generation failed")
	default:
		middleware.LoggerFromContext(c).Error("request failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok && id > 0
}

// resumeIDParam 解析路径参数 :id，非法时直接写 400。
func resumeIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid resume id")
		return 0, false
	}
	return uint(id), true
}

func loggerFor(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if _, ok := c.Get(middleware.LoggerKey); ok || fallback == nil {
		return middleware.LoggerFromContext(c)
	}
	return fallback
}
