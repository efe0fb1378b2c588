package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRequestMetricsLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestMetrics("/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/resumes/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/v1/ws", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	before := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", "/v1/resumes/:id", "4xx"))
	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/resumes/"+id, nil))
	}
	assert.Equal(t, before+3, testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", "/v1/resumes/:id", "4xx")))

	unmatched := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", unmatchedRoute, "4xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/random/path", nil))
	assert.Equal(t, unmatched+1, testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", unmatchedRoute, "4xx")))

	health := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", "/health", "2xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, health, testutil.ToFloat64(apiRequestsTotal.WithLabelValues("GET", "/health", "2xx")))

	ws := testutil.ToFloat64(wsUpgradesTotal.WithLabelValues("/v1/ws"))
	req := httptest.NewRequest("GET", "/v1/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, ws+1, testutil.ToFloat64(wsUpgradesTotal.WithLabelValues("/v1/ws")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "429", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestTaskMetricsOutcome(t *testing.T) {
	const taskType = "test:outcome"
	run := func(err error) {
		h := TaskMetrics()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return err }))
		_ = h.ProcessTask(context.Background(), asynq.NewTask(taskType, nil))
	}

	run(nil)
	run(fmt.Errorf("resume gone: %w", asynq.SkipRetry))
	run(errors.New("minio unavailable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(tasksTotal.WithLabelValues(taskType, TaskSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksTotal.WithLabelValues(taskType, TaskDropped)))
	// 没有 asynq 任务上下文时无法判断是否最后一次重试。
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksTotal.WithLabelValues(taskType, TaskRetrying)))
	assert.Equal(t, 0.0, testutil.ToFloat64(tasksInProgress.WithLabelValues(taskType)))
}
