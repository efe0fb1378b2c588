package api

import (
	"context"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"civy/internal/storage"
)

// ObjectStore 是 API 对对象存储的依赖，由 *storage.Client 实现。
type ObjectStore interface {
	storage.ObjectReader
	PutBytes(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedDownload(ctx context.Context, objectKey string, ttl time.Duration, filename string) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// TaskEnqueuer 由 *asynq.Client 实现。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// VirusScanner 扫描上传内容，发现威胁时返回 ErrInfected。
type VirusScanner interface {
	Scan(ctx context.Context, r io.Reader) error
}
