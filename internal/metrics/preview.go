package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预览渲染结果标签。
const (
	RenderPresented = "presented"
	RenderCancelled = "cancelled"
	RenderFailed    = "failed"
)

var (
	previewRendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civy",
			Subsystem: "preview",
			Name:      "renders_total",
			Help:      "预览栅格化次数，按结果区分。",
		},
		[]string{"result"},
	)

	previewFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civy",
			Subsystem: "preview",
			Name:      "failures_total",
			Help:      "预览生成/解码失败次数。",
		},
		[]string{"stage"},
	)

	previewGenerationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "civy",
			Subsystem: "preview",
			Name:      "generation_duration_seconds",
			Help:      "PDF 生成耗时分布（秒）。",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	previewSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "civy",
			Subsystem: "preview",
			Name:      "sessions",
			Help:      "当前打开的实时预览会话数。",
		},
	)
)

// PreviewRender 记录一次渲染结果。
func PreviewRender(result string) {
	previewRendersTotal.WithLabelValues(result).Inc()
}

// PreviewFailure 记录生成或解码失败。
func PreviewFailure(stage string) {
	previewFailuresTotal.WithLabelValues(stage).Inc()
}

// ObservePreviewGeneration 记录生成耗时。
func ObservePreviewGeneration(d time.Duration) {
	previewGenerationSeconds.Observe(d.Seconds())
}

// PreviewSessionOpened / PreviewSessionClosed 维护会话数。
func PreviewSessionOpened() { previewSessions.Inc() }
func PreviewSessionClosed() { previewSessions.Dec() }
