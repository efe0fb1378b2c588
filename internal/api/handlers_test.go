package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"civy/internal/auth"
	"civy/internal/config"
	"civy/internal/database"
	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/pdf"
	"civy/internal/raster"
	"civy/internal/resume"
	"civy/internal/service"
	"civy/internal/tasks"
)

type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	prefixes []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) GetBytes(_ context.Context, key string, _ int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (s *memStore) PutBytes(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) PresignedDownload(_ context.Context, key string, _ time.Duration, _ string) (string, error) {
	return "https://files.test/" + key, nil
}

func (s *memStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Type: task.Type()}, nil
}

func (q *fakeQueue) byType(typ string) []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*asynq.Task
	for _, t := range q.tasks {
		if t.Type() == typ {
			out = append(out, t)
		}
	}
	return out
}

type fakeScanner struct{ err error }

func (s fakeScanner) Scan(context.Context, io.Reader) error { return s.err }

type apiFixture struct {
	router  *gin.Engine
	db      *gorm.DB
	auth    *auth.AuthService
	store   *memStore
	queue   *fakeQueue
	scanner *fakeScanner
	user    database.User
	token   string
}

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, pub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	priv, pub := testKeys(t)
	authService, err := auth.NewAuthService(priv, pub, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		Auth:    config.AuthConfig{LoginRateLimitPerHour: 20, LoginLockThreshold: 3, LoginLockTTL: time.Minute},
		Limits:  config.LimitsConfig{FreeMaxResumes: 1, PremiumMaxResumes: 3, PublicRequestsPerMin: 100},
		Billing: config.BillingConfig{WebhookSecret: "hook-secret", PlanYearly: "P-Y"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	html, err := htmlpreview.NewRenderer()
	require.NoError(t, err)
	ras, err := raster.New()
	require.NoError(t, err)

	f := &apiFixture{
		db:      db,
		auth:    authService,
		store:   newMemStore(),
		queue:   &fakeQueue{},
		scanner: &fakeScanner{},
	}
	resumes := service.NewResumeService(db, rdb, time.Minute, service.Limits{FreeMaxResumes: 1, PremiumMaxResumes: 3}, log)
	billing := service.NewBillingService(db, service.Plans{Yearly: "P-Y"}, log)

	f.router = NewRouter(cfg, log)
	RegisterRoutes(f.router, Deps{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Queue:       f.queue,
		Storage:     f.store,
		Scanner:     f.scanner,
		AuthService: authService,
		Resumes:     resumes,
		Billing:     billing,
		Generator:   pdf.NewGenerator(nil),
		HTML:        html,
		Rasterizer:  ras,
		Catalog:     i18n.MustLoad(),
		Logger:      log,
	})

	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	f.user = database.User{Username: "ada", PasswordHash: hash}
	require.NoError(t, db.Create(&f.user).Error)
	f.token = f.tokenFor(t, f.user.ID, false)
	return f
}

func (f *apiFixture) tokenFor(t *testing.T, userID uint, mustChange bool) string {
	t.Helper()
	pair, err := f.auth.GenerateTokenPair(userID, mustChange)
	require.NoError(t, err)
	return pair.AccessToken
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type resumeBody struct {
	ID      uint          `json:"id"`
	Title   string        `json:"title"`
	Version int           `json:"version"`
	Data    resume.Resume `json:"data"`
	Slug    *string       `json:"slug"`
}

func (f *apiFixture) createResume(t *testing.T) resumeBody {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/resumes", map[string]string{"title": "Backend"}, f.token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[resumeBody](t, rec)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, "").Code)

	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRegisterLoginRefresh(t *testing.T) {
	f := newAPIFixture(t)
	creds := map[string]string{"username": "grace", "password": "hopper-1906"}

	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/auth/register", creds, "").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/auth/register", creds, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/auth/register",
		map[string]string{"username": "short", "password": "abc"}, "").Code)

	bad := map[string]string{"username": "grace", "password": "wrong-password"}
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/auth/login", bad, "").Code)

	rec := f.do(t, http.MethodPost, "/v1/auth/login", creds, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[tokenResponse](t, rec)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)

	var refresh *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshTokenCookieName {
			refresh = c
		}
	}
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)

	body := map[string]string{"refresh_token": refresh.Value}
	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 旧的刷新令牌已被轮换作废。
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/auth/refresh", body, "").Code)
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	f := newAPIFixture(t)
	bad := map[string]string{"username": "ada", "password": "not the password"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/auth/login", bad, "").Code)
	}
	good := map[string]string{"username": "ada", "password": "correct horse"}
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/v1/auth/login", good, "").Code)
}

func TestChangePasswordClearsGate(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.db.Model(&f.user).Update("must_change_password", true).Error)
	gated := f.tokenFor(t, f.user.ID, true)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/resumes", nil, gated).Code)

	rec := f.do(t, http.MethodPost, "/v1/auth/change-password", map[string]string{
		"current_password": "correct horse",
		"new_password":     "battery staple",
		"confirm_password": "battery staple",
	}, gated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[tokenResponse](t, rec)
	assert.False(t, tok.MustChangePassword)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/resumes", nil, tok.AccessToken).Code)
}

func TestResumeCRUDAndQuota(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/resumes", nil, "").Code)

	created := f.createResume(t)
	assert.Equal(t, "Backend", created.Title)
	assert.Equal(t, 1, created.Version)

	rec := f.do(t, http.MethodPost, "/v1/resumes", nil, f.token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	path := fmt.Sprintf("/v1/resumes/%d", created.ID)
	data := created.Data
	data.Personal.Details = []resume.Item{{ID: "mail", Type: resume.TypeEmail, Visible: true, Text: "nope"}}
	rec = f.do(t, http.MethodPut, path, map[string]any{"data": data}, f.token)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "personal.details[0].value")

	data.Personal.Details[0].Text = "ada@example.com"
	data.Personal.FullName = "Ada Lovelace"
	rec = f.do(t, http.MethodPut, path, map[string]any{"data": data}, f.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[resumeBody](t, rec)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, "Ada Lovelace", saved.Data.Personal.FullName)
	assert.Len(t, f.queue.byType(tasks.TypeResumeThumbnail), 1)

	list := decode[struct {
		Items []service.Summary `json:"items"`
	}](t, f.do(t, http.MethodGet, "/v1/resumes", nil, f.token))
	assert.Len(t, list.Items, 1)

	other := database.User{Username: "eve", PasswordHash: "x"}
	require.NoError(t, f.db.Create(&other).Error)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, nil, f.tokenFor(t, other.ID, false)).Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/resumes/abc", nil, f.token).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, nil, f.token).Code)
	assert.Contains(t, f.store.prefixes, fmt.Sprintf("exports/%d/%d/", f.user.ID, created.ID))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, nil, f.token).Code)

	// 删除后配额释放。
	f.createResume(t)
}

func TestRenderDocuments(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createResume(t)
	base := fmt.Sprintf("/v1/resumes/%d", created.ID)

	rec := f.do(t, http.MethodGet, base+"/pdf", nil, f.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Backend.pdf")

	rec = f.do(t, http.MethodGet, base+"/preview.html?lang=de", nil, f.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `lang="de"`)
}

func TestExportAndDownloadLink(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createResume(t)
	base := fmt.Sprintf("/v1/resumes/%d", created.ID)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodGet, base+"/download-link", nil, f.token).Code)

	rec := f.do(t, http.MethodPost, base+"/export", nil, f.token, "X-Correlation-ID", "corr-1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "corr-1", decode[map[string]string](t, rec)["correlation_id"])

	exports := f.queue.byType(tasks.TypePDFExport)
	require.Len(t, exports, 1)
	var payload tasks.PDFExportPayload
	require.NoError(t, json.Unmarshal(exports[0].Payload(), &payload))
	assert.Equal(t, created.ID, payload.ResumeID)
	assert.Equal(t, f.user.ID, payload.UserID)
	assert.Equal(t, 1, payload.Version)
	assert.Equal(t, "corr-1", payload.CorrelationID)

	require.NoError(t, f.db.Model(&database.Resume{}).Where("id = ?", created.ID).
		Updates(map[string]any{"pdf_object_key": "exports/1/1/x.pdf", "status": "completed"}).Error)
	rec = f.do(t, http.MethodGet, base+"/download-link", nil, f.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://files.test/exports/1/1/x.pdf", decode[map[string]string](t, rec)["url"])
}

func TestPublicShare(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createResume(t)
	base := fmt.Sprintf("/v1/resumes/%d", created.ID)

	rec := f.do(t, http.MethodPost, base+"/visibility", nil, f.token)
	require.Equal(t, http.StatusOK, rec.Code)
	vis := decode[service.Visibility](t, rec)
	require.True(t, vis.IsPublic)
	require.NotNil(t, vis.Slug)
	slug := *vis.Slug

	rec = f.do(t, http.MethodGet, "/v1/p/"+slug, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var shared map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shared))
	assert.Len(t, shared, 3)
	assert.Contains(t, shared, "data")

	rec = f.do(t, http.MethodGet, "/v1/p/"+slug+"/pdf", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = f.do(t, http.MethodGet, "/v1/p/"+slug+"/html", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<html")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/p/NOT-A-SLUG", nil, "").Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/visibility", nil, f.token).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/p/"+slug, nil, "").Code)
}

func TestBillingEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/billing/activate", map[string]string{"tier": "monthly"}, f.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/billing/activate", map[string]string{"subscriptionId": "I-1", "tier": "weekly"}, f.token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/billing/activate", map[string]string{"subscriptionId": "I-1", "tier": "monthly"}, f.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 付费后配额提升到 3。
	f.createResume(t)
	f.createResume(t)

	event := map[string]any{
		"event_type": service.EventSubscriptionCancelled,
		"resource":   map[string]string{"id": "I-1"},
	}
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/webhooks/billing", event, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/webhooks/billing", event, "", webhookSecretHeader, "wrong").Code)

	rec = f.do(t, http.MethodPost, "/v1/webhooks/billing", event, "", webhookSecretHeader, "hook-secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	var user database.User
	require.NoError(t, f.db.First(&user, f.user.ID).Error)
	assert.False(t, user.PremiumActive(time.Now()))

	unknown := map[string]any{
		"event_type": "PAYMENT.SALE.COMPLETED",
		"resource":   map[string]string{"id": "I-2", "custom_id": fmt.Sprint(f.user.ID)},
	}
	rec = f.do(t, http.MethodPost, "/v1/webhooks/billing", unknown, "", webhookSecretHeader, "hook-secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// 订阅 ID 已解绑，无法再定位用户。
	rec = f.do(t, http.MethodPost, "/v1/webhooks/billing", event, "", webhookSecretHeader, "hook-secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportDataAttachment(t *testing.T) {
	f := newAPIFixture(t)
	f.createResume(t)

	rec := f.do(t, http.MethodGet, "/v1/export", nil, f.token)
	require.Equal(t, http.StatusOK, rec.Code)
	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, "attachment;"))
	assert.Contains(t, disposition, "civy-export-"+time.Now().UTC().Format("2006-01-02"))
	assert.Contains(t, rec.Body.String(), "Backend")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (f *apiFixture) upload(t *testing.T, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/assets/photo", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadPhoto(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "me.png", pngBytes(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	key := decode[map[string]string](t, rec)["objectKey"]
	assert.True(t, strings.HasPrefix(key, fmt.Sprintf("user-assets/%d/", f.user.ID)))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Contains(t, f.store.objects, key)

	rec = f.do(t, http.MethodGet, "/v1/assets/view?key="+key, nil, f.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://files.test/"+key, decode[map[string]string](t, rec)["url"])

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/assets/view?key=user-assets/999/x.png", nil, f.token).Code)
	assert.Equal(t, http.StatusBadRequest, f.upload(t, "me.gif", []byte("GIF89a")).Code)
	assert.Equal(t, http.StatusBadRequest, f.upload(t, "me.png", []byte("plain text")).Code)

	f.scanner.err = fmt.Errorf("%w: Eicar-Test-Signature", ErrInfected)
	assert.Equal(t, http.StatusBadRequest, f.upload(t, "me.png", pngBytes(t)).Code)

	f.scanner.err = errors.New("clamd down")
	assert.Equal(t, http.StatusInternalServerError, f.upload(t, "me.png", pngBytes(t)).Code)
}
