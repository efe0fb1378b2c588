package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"civy/internal/errcode"
	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/storage"
	"civy/internal/tasks"
)

const thumbnailQuality = 80

// ThumbnailHandler 用无头浏览器截取静态 HTML 预览作为简历缩略图。
type ThumbnailHandler struct {
	resumes  ResumeStore
	storage  ObjectStore
	shooter  Screenshotter
	renderer *htmlpreview.Renderer
	catalog  *i18n.Catalog
	logger   *slog.Logger
}

func NewThumbnailHandler(
	resumes ResumeStore,
	storageClient ObjectStore,
	shooter Screenshotter,
	renderer *htmlpreview.Renderer,
	catalog *i18n.Catalog,
	logger *slog.Logger,
) *ThumbnailHandler {
	return &ThumbnailHandler{
		resumes:  resumes,
		storage:  storageClient,
		shooter:  shooter,
		renderer: renderer,
		catalog:  catalog,
		logger:   logger,
	}
}

func (h *ThumbnailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal thumbnail payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.Uint64("resume_id", uint64(payload.ResumeID)),
		slog.String("correlation_id", payload.CorrelationID),
	)

	rec, err := h.resumes.Load(ctx, payload.ResumeID)
	if err != nil {
		if errors.Is(err, errcode.ErrNotFound) {
			log.Warn("resume not found, skipping thumbnail")
			return nil
		}
		return err
	}

	opts := htmlpreview.Options{
		Labels: h.catalog.Labels(payload.Lang),
		Lang:   payload.Lang,
	}
	if key := rec.Data.Personal.Photo; key != "" {
		photo, err := storage.PhotoLoader(h.storage, rec.UserID)(ctx, key)
		if err != nil {
			log.Warn("photo unavailable for thumbnail", slog.String("object_key", key), slog.Any("error", err))
		} else {
			opts.PhotoURL = htmlpreview.InlineImage(photo)
		}
	}

	var page bytes.Buffer
	if err := h.renderer.Execute(&page, rec.Data, opts); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	shot, err := h.shooter.ScreenshotJPEG(ctx, page.String(), thumbnailQuality)
	if err != nil {
		log.Error("capture thumbnail failed", slog.Any("error", err))
		return err
	}

	objectKey := storage.ThumbnailKey(rec.ID)
	if err := h.storage.PutBytes(ctx, objectKey, shot, "image/jpeg"); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}
	if err := h.resumes.SetPreviewKey(ctx, rec.ID, objectKey); err != nil {
		return fmt.Errorf("store thumbnail key: %w", err)
	}

	log.Info("thumbnail updated", slog.String("object_key", objectKey))
	return nil
}
