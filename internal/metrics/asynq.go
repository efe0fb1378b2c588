package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 后台任务结果标签。
const (
	TaskSucceeded = "succeeded"
	// TaskRetrying 表示任务失败但 asynq 还会重试。
	TaskRetrying = "retrying"
	// TaskDropped 表示任务不可重试（SkipRetry），例如简历已被删除。
	TaskDropped = "dropped"
	// TaskExhausted 表示最后一次重试也失败了，导出状态已被标记为 failed。
	TaskExhausted = "exhausted"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civy",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "导出与缩略图任务的处理次数，按结果区分。",
		},
		[]string{"task_type", "outcome"},
	)

	taskSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "civy",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "单次任务处理耗时（秒），含 PDF 生成与对象存储上传。",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task_type"},
	)

	tasksInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "civy",
			Subsystem: "worker",
			Name:      "tasks_in_progress",
			Help:      "正在处理的任务数。",
		},
		[]string{"task_type"},
	)
)

// TaskMetrics 记录 worker 任务的耗时与结果。
func TaskMetrics() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			inProgress := tasksInProgress.WithLabelValues(taskType)
			inProgress.Inc()
			defer inProgress.Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskSeconds.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
			tasksTotal.WithLabelValues(taskType, taskOutcome(ctx, err)).Inc()
			return err
		})
	}
}

func taskOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return TaskSucceeded
	case errors.Is(err, asynq.SkipRetry):
		return TaskDropped
	}
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if ok1 && ok2 && retried >= maxRetry {
		return TaskExhausted
	}
	return TaskRetrying
}
