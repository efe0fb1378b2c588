package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"civy/internal/database"
	"civy/internal/errcode"
	"civy/internal/i18n"
	"civy/internal/pdf"
	"civy/internal/storage"
	"civy/internal/tasks"
)

// PDFTaskHandler 负责消费 PDF 导出任务。
type PDFTaskHandler struct {
	resumes     ResumeStore
	storage     ObjectStore
	generator   Generator
	catalog     *i18n.Catalog
	redisClient redis.UniversalClient
	logger      *slog.Logger
}

// NewPDFTaskHandler 创建任务处理器。
func NewPDFTaskHandler(
	resumes ResumeStore,
	storage ObjectStore,
	generator Generator,
	catalog *i18n.Catalog,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) *PDFTaskHandler {
	return &PDFTaskHandler{
		resumes:     resumes,
		storage:     storage,
		generator:   generator,
		catalog:     catalog,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PDFExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("resume_id", uint64(payload.ResumeID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)
	log.Info("starting pdf export task")

	rec, err := h.resumes.Load(ctx, payload.ResumeID)
	if err != nil {
		if errors.Is(err, errcode.ErrNotFound) {
			log.Warn("resume not found, skipping task")
			return nil
		}
		log.Error("load resume failed", slog.Any("error", err))
		return err
	}
	if rec.UserID != payload.UserID {
		log.Warn("resume owner mismatch, skipping task")
		return nil
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) && !errors.Is(retErr, asynq.SkipRetry) {
			return
		}
		if err := h.resumes.SetExportState(ctx, rec.ID, database.ResumeStatusFailed, "", ""); err != nil {
			log.Error("mark export failed", slog.Any("error", err))
		}
		notify := NotifyMessage{
			Type:          NotifyExport,
			Status:        "error",
			ResumeID:      rec.ID,
			Version:       rec.Version,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if errors.Is(retErr, errcode.ErrGenerationFailed) {
			notify.ErrorCode = errcode.GenerationFailed
		}
		if err := Publish(ctx, h.redisClient, rec.UserID, notify); err != nil {
			log.Error("publish export error notification failed", slog.Any("error", err))
		}
	}()

	if err := h.resumes.SetExportState(ctx, rec.ID, database.ResumeStatusExporting, "", ""); err != nil {
		return err
	}

	in := pdf.Input{
		Resume:     rec.Data,
		Labels:     h.catalog.Labels(payload.Lang),
		ModifiedAt: rec.UpdatedAt,
	}
	var missing []string
	if key := rec.Data.Personal.Photo; key != "" {
		photo, err := storage.PhotoLoader(h.storage, rec.UserID)(ctx, key)
		if err != nil {
			log.Warn("photo unavailable, exporting without it", slog.String("object_key", key), slog.Any("error", err))
			missing = append(missing, key)
		} else {
			in.Photo = photo
		}
	}

	art, err := h.generator.Generate(ctx, in)
	if err != nil {
		log.Error("generate pdf failed", slog.Any("error", err))
		// 相同输入必然再次失败，无需重试。
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	objectKey := storage.ExportKey(rec.UserID, rec.ID)
	if err := h.storage.PutBytes(ctx, objectKey, art.Bytes, "application/pdf"); err != nil {
		log.Error("upload pdf failed", slog.Any("error", err))
		return err
	}
	if err := h.resumes.SetExportState(ctx, rec.ID, database.ResumeStatusCompleted, objectKey, ""); err != nil {
		log.Error("update resume failed", slog.Any("error", err))
		return err
	}

	notify := NotifyMessage{
		Type:          NotifyExport,
		Status:        "completed",
		ResumeID:      rec.ID,
		Version:       rec.Version,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if len(missing) > 0 {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "照片缺失或无效，已跳过并继续生成"
		notify.MissingKeys = missing
	}
	if err := Publish(ctx, h.redisClient, rec.UserID, notify); err != nil {
		// PDF 已落盘，通知失败不重试整个导出。
		log.Error("publish redis notification failed", slog.Any("error", err))
	}

	log.Info("pdf export task completed",
		slog.String("object_key", objectKey),
		slog.Int("pages", art.PageCount),
	)
	return nil
}
