package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"civy/internal/api/middleware"
	"civy/internal/resume"
	"civy/internal/service"
)

// PublicHandler 提供无需登录的分享页接口。
type PublicHandler struct {
	resumes *service.ResumeService
	docs    *documents
}

func NewPublicHandler(resumes *service.ResumeService, docs *documents) *PublicHandler {
	return &PublicHandler{resumes: resumes, docs: docs}
}

// PublicRateLimit 按客户端 IP 每分钟限流，redis 不可用时放行。
func PublicRateLimit(client redis.UniversalClient, perMinute int) gin.HandlerFunc {
	window := publicWindow.withLimit(perMinute)
	return func(c *gin.Context) {
		ok, err := window.allow(c.Request.Context(), client, c.ClientIP())
		if err != nil {
			middleware.LoggerFromContext(c).Warn("public rate limit unavailable", slog.Any("error", err))
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// GetShared 返回公开简历的 {id,title,data}。
func (h *PublicHandler) GetShared(c *gin.Context) {
	pub, err := h.resumes.GetPublic(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.JSON(http.StatusOK, pub)
}

// SharedPDF 生成公开简历的 PDF。
func (h *PublicHandler) SharedPDF(c *gin.Context) {
	pub, data, ok := h.load(c)
	if !ok {
		return
	}
	art, err := h.docs.pdf(c.Request.Context(), middleware.LoggerFromContext(c), pub.OwnerID, data, h.docs.negotiate(c))
	if err != nil {
		respondError(c, err)
		return
	}
	writePDF(c, pdfFilename(pub.Title), art.Bytes)
}

// SharedHTML 返回公开简历的静态页面。
func (h *PublicHandler) SharedHTML(c *gin.Context) {
	pub, data, ok := h.load(c)
	if !ok {
		return
	}
	page, err := h.docs.page(c.Request.Context(), middleware.LoggerFromContext(c), pub.OwnerID, data, h.docs.negotiate(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (h *PublicHandler) load(c *gin.Context) (*service.PublicResume, resume.Resume, bool) {
	pub, err := h.resumes.GetPublic(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err)
		return nil, resume.Resume{}, false
	}
	data, err := resume.Parse(pub.Data)
	if err != nil {
		respondError(c, err)
		return nil, resume.Resume{}, false
	}
	return pub, data, true
}
