package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"civy/internal/pdf"
	"civy/internal/service"
	"civy/internal/storage"
)

// ResumeStore 是 worker 对简历持久层的依赖。
type ResumeStore interface {
	Load(ctx context.Context, id uint) (*service.Record, error)
	SetExportState(ctx context.Context, id uint, status, pdfKey, previewKey string) error
	SetPreviewKey(ctx context.Context, id uint, key string) error
}

// ObjectStore 是 worker 对对象存储的依赖。
type ObjectStore interface {
	storage.ObjectReader
	PutBytes(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Generator 生成 PDF。
type Generator interface {
	Generate(ctx context.Context, in pdf.Input) (*pdf.Artifact, error)
}

// Screenshotter 把 HTML 渲染为 JPEG。
type Screenshotter interface {
	ScreenshotJPEG(ctx context.Context, html string, quality int) ([]byte, error)
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
