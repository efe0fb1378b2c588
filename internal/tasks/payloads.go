package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePDFExport       = "pdf:export"
	TypeResumeThumbnail = "resume:thumbnail"
)

// PDFExportPayload 描述一次异步导出。Version 用于丢弃过期任务的结果。
type PDFExportPayload struct {
	ResumeID      uint   `json:"resume_id"`
	UserID        uint   `json:"user_id"`
	Version       int    `json:"version"`
	Lang          string `json:"lang,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// ThumbnailPayload 描述一次缩略图渲染。
type ThumbnailPayload struct {
	ResumeID      uint   `json:"resume_id"`
	Lang          string `json:"lang,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// NewPDFExportTask 构造 PDF 导出任务。
func NewPDFExportTask(p PDFExportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePDFExport, payload, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute)), nil
}

// NewThumbnailTask 构造缩略图任务。同一简历在窗口期内只保留一个任务。
func NewThumbnailTask(p ThumbnailPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeThumbnail, payload,
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
		asynq.TaskID(fmt.Sprintf("thumb:%d", p.ResumeID)),
		asynq.Retention(30*time.Second),
	), nil
}
