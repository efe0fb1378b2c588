package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetCorrelationID(c)) })
	return r
}

func serve(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = BearerToken("bearer  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer a b"} {
		_, ok := BearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestCorrelationID(t *testing.T) {
	r := newEngine(CorrelationIDMiddleware())

	rec := serve(r, map[string]string{CorrelationIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get(CorrelationIDHeader))

	rec = serve(r, map[string]string{CorrelationIDHeader: strings.Repeat("a", 65)})
	assert.Len(t, rec.Body.String(), 36)

	rec = serve(r, nil)
	assert.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))
}

func TestSharedSecret(t *testing.T) {
	r := newEngine(SharedSecretMiddleware("X-Secret", "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, serve(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, map[string]string{"X-Secret": "nope"}).Code)
	assert.Equal(t, http.StatusOK, serve(r, map[string]string{"X-Secret": "s3cret"}).Code)

	unset := newEngine(SharedSecretMiddleware("X-Secret", " "))
	assert.Equal(t, http.StatusServiceUnavailable, serve(unset, map[string]string{"X-Secret": " "}).Code)
}

func TestPasswordGate(t *testing.T) {
	flag := false
	r := newEngine(func(c *gin.Context) {
		c.Set(MustChangePasswordKey, flag)
		c.Next()
	}, RequirePasswordChangeCompletedMiddleware())

	assert.Equal(t, http.StatusOK, serve(r, nil).Code)
	flag = true
	assert.Equal(t, http.StatusForbidden, serve(r, nil).Code)
}

func TestSlogLoggerIncludesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newEngine(CorrelationIDMiddleware(), SlogLoggerMiddleware(logger))

	serve(r, map[string]string{CorrelationIDHeader: "trace-me"})
	out := buf.String()
	assert.Contains(t, out, `"correlation_id":"trace-me"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"path":"/x"`)
}
