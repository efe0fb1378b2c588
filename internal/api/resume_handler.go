package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"civy/internal/api/middleware"
	"civy/internal/resume"
	"civy/internal/service"
	"civy/internal/storage"
	"civy/internal/tasks"
)

const downloadLinkTTL = 5 * time.Minute

// ResumeHandler 负责处理与简历相关的 API 请求。业务规则全部在 ResumeService 中。
type ResumeHandler struct {
	resumes *service.ResumeService
	queue   TaskEnqueuer
	storage ObjectStore
	docs    *documents
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(resumes *service.ResumeService, queue TaskEnqueuer, storageClient ObjectStore, docs *documents) *ResumeHandler {
	return &ResumeHandler{
		resumes: resumes,
		queue:   queue,
		storage: storageClient,
		docs:    docs,
	}
}

type createResumeRequest struct {
	Title string `json:"title"`
}

type saveResumeRequest struct {
	Title *string        `json:"title"`
	Data  *resume.Resume `json:"data"`
}

// ListResumes 返回当前用户的简历摘要。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	items, err := h.resumes.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// CreateResume 新建一份默认简历，超过限额返回 403。
func (h *ResumeHandler) CreateResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createResumeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	rec, err := h.resumes.Create(c.Request.Context(), userID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetResume 返回完整简历。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, err := h.resumes.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UpdateResume 保存标题或数据，校验失败返回 422。
func (h *ResumeHandler) UpdateResume(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	var req saveResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	rec, err := h.resumes.Save(c.Request.Context(), userID, id, service.SaveInput{Title: req.Title, Data: req.Data})
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Data != nil {
		h.enqueueThumbnail(c, rec.ID)
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteResume 软删除简历，并尽力清理导出文件。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	if err := h.resumes.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	if err := h.storage.DeletePrefix(c.Request.Context(), storage.ResumeExportsPrefix(userID, id)); err != nil {
		middleware.LoggerFromContext(c).Warn("cleanup exports failed", slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// DuplicateResume 复制简历，同样受配额限制。
func (h *ResumeHandler) DuplicateResume(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, err := h.resumes.Duplicate(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ToggleVisibility 切换公开状态。
func (h *ResumeHandler) ToggleVisibility(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	vis, err := h.resumes.ToggleVisibility(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, vis)
}

// RegenerateSlug 生成新的分享链接，旧链接失效。
func (h *ResumeHandler) RegenerateSlug(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	slug, err := h.resumes.RegenerateSlug(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slug": slug})
}

// RenderPDF 同步生成 PDF 并直接返回。
func (h *ResumeHandler) RenderPDF(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, err := h.resumes.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	log := middleware.LoggerFromContext(c)
	art, err := h.docs.pdf(c.Request.Context(), log, userID, rec.Data, h.docs.negotiate(c))
	if err != nil {
		respondError(c, err)
		return
	}
	writePDF(c, pdfFilename(rec.Title), art.Bytes)
}

// PreviewHTML 返回静态 HTML 预览。
func (h *ResumeHandler) PreviewHTML(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, err := h.resumes.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := h.docs.page(c.Request.Context(), middleware.LoggerFromContext(c), userID, rec.Data, h.docs.negotiate(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// ExportResume 将 PDF 导出任务入队并立即返回 202，结果通过 WebSocket 通知。
func (h *ResumeHandler) ExportResume(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, err := h.resumes.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewPDFExportTask(tasks.PDFExportPayload{
		ResumeID:      rec.ID,
		UserID:        userID,
		Version:       rec.Version,
		Lang:          h.docs.negotiate(c).lang,
		CorrelationID: correlationID,
	})
	if err != nil {
		Internal(c, "failed to create task")
		return
	}

	info, err := h.queue.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		middleware.LoggerFromContext(c).Error("enqueue pdf export failed", slog.Any("error", err))
		Internal(c, "failed to enqueue pdf export")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":        "PDF export accepted",
		"task_id":        info.ID,
		"correlation_id": correlationID,
	})
}

// GetDownloadLink 返回最近一次导出的预签名下载链接。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, err := h.resumes.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if rec.PdfObjectKey == "" {
		Conflict(c, "pdf not ready")
		return
	}

	signedURL, err := h.storage.PresignedDownload(c.Request.Context(), rec.PdfObjectKey, downloadLinkTTL, pdfFilename(rec.Title))
	if err != nil {
		middleware.LoggerFromContext(c).Error("presign download failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL, "status": rec.Status})
}

func (h *ResumeHandler) target(c *gin.Context) (userID, id uint, ok bool) {
	userID, ok = userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return 0, 0, false
	}
	id, ok = resumeIDParam(c)
	return userID, id, ok
}

// enqueueThumbnail 尽力刷新缩略图；同一简历在短时间内只会有一个任务。
func (h *ResumeHandler) enqueueThumbnail(c *gin.Context, id uint) {
	task, err := tasks.NewThumbnailTask(tasks.ThumbnailPayload{
		ResumeID:      id,
		Lang:          h.docs.negotiate(c).lang,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		return
	}
	if _, err := h.queue.EnqueueContext(c.Request.Context(), task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		middleware.LoggerFromContext(c).Warn("enqueue thumbnail failed", slog.Any("error", err))
	}
}

func writePDF(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", data)
}

// pdfFilename 生成安全的下载文件名。
func pdfFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, strings.TrimSpace(title))
	if name == "" {
		name = "resume"
	}
	return name + ".pdf"
}
