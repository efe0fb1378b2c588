package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"civy/internal/database"
	"civy/internal/errcode"
	"civy/internal/resume"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) database.User {
	t.Helper()
	u := database.User{Username: name, PasswordHash: "x"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

type fixture struct {
	db    *gorm.DB
	redis *miniredis.Miniredis
	svc   *ResumeService
	user  database.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewResumeService(db, client, time.Minute, Limits{FreeMaxResumes: 2, PremiumMaxResumes: 5}, nil)
	return &fixture{db: db, redis: mr, svc: svc, user: seedUser(t, db, "ada")}
}

func TestCreateEnforcesFreeQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, first.Title)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "modern", first.Data.Metadata.Template)

	_, err = f.svc.Create(ctx, f.user.ID, "CV")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.user.ID, "third")
	assert.ErrorIs(t, err, errcode.ErrLimitExceeded)

	_, err = f.svc.Duplicate(ctx, f.user.ID, first.ID)
	assert.ErrorIs(t, err, errcode.ErrLimitExceeded)
}

func TestConcurrentCreateRespectsQuota(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	// 内存 SQLite 的共享缓存在多连接并发写时会报表锁错误。
	sqlDB.SetMaxOpenConns(1)

	const callers = 8
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		limited atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), f.user.ID, "")
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, errcode.ErrLimitExceeded):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, created.Load())
	assert.EqualValues(t, callers-2, limited.Load())
	var count int64
	require.NoError(t, f.db.Model(&database.Resume{}).Where("user_id = ?", f.user.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestDeletedResumesFreeQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.user.ID, "a")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.user.ID, "b")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.user.ID, a.ID))
	_, err = f.svc.Create(ctx, f.user.ID, "c")
	assert.NoError(t, err)

	_, err = f.svc.Get(ctx, f.user.ID, a.ID)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestPremiumQuotaAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	billing := NewBillingService(f.db, Plans{}, nil)

	_, err := billing.GrantPremium(ctx, f.user.ID, "I-SUB", TierMonthly)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.svc.Create(ctx, f.user.ID, "")
		require.NoError(t, err)
	}
	_, err = f.svc.Create(ctx, f.user.ID, "")
	assert.ErrorIs(t, err, errcode.ErrLimitExceeded)

	// 到期后按免费额度计算。
	f.svc.now = func() time.Time { return time.Now().AddDate(0, 2, 0) }
	_, err = f.svc.Create(ctx, f.user.ID, "")
	assert.ErrorIs(t, err, errcode.ErrLimitExceeded)
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := seedUser(t, f.db, "mallory")

	r, err := f.svc.Create(ctx, f.user.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, other.ID, r.ID)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, other.ID, r.ID), errcode.ErrNotFound)
	_, err = f.svc.ToggleVisibility(ctx, other.ID, r.ID)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestSaveValidatesAndBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "")
	require.NoError(t, err)

	data := r.Data
	data.Personal.FullName = "Ada Lovelace"
	title := "Engine notes"
	saved, err := f.svc.Save(ctx, f.user.ID, r.ID, SaveInput{Title: &title, Data: &data})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, "Engine notes", saved.Title)
	assert.Equal(t, "Ada Lovelace", saved.Data.Personal.FullName)

	bad := data
	bad.Personal.Details = []resume.Item{{ID: "e", Type: resume.TypeEmail, Visible: true, Text: "not-an-email"}}
	_, err = f.svc.Save(ctx, f.user.ID, r.ID, SaveInput{Data: &bad})
	assert.True(t, errcode.IsValidation(err))

	empty := "  "
	_, err = f.svc.Save(ctx, f.user.ID, r.ID, SaveInput{Title: &empty})
	assert.True(t, errcode.IsValidation(err))

	again, err := f.svc.Get(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]{8}$`)

func TestToggleVisibilityKeepsSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "")
	require.NoError(t, err)
	assert.Nil(t, r.Slug)

	on, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	require.True(t, on.IsPublic)
	require.NotNil(t, on.Slug)
	assert.Regexp(t, slugPattern, *on.Slug)

	off, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.False(t, off.IsPublic)
	require.NotNil(t, off.Slug)
	assert.Equal(t, *on.Slug, *off.Slug)

	_, err = f.svc.GetPublic(ctx, *on.Slug)
	assert.ErrorIs(t, err, errcode.ErrNotFound)

	again, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, *on.Slug, *again.Slug)
}

func TestGetPublicReturnsOnlySharedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "Public CV")
	require.NoError(t, err)
	vis, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)

	pub, err := f.svc.GetPublic(ctx, *vis.Slug)
	require.NoError(t, err)
	assert.Equal(t, r.ID, pub.ID)
	assert.Equal(t, "Public CV", pub.Title)

	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Len(t, fields, 3)
	assert.Contains(t, fields, "data")

	assert.Equal(t, f.user.ID, pub.OwnerID)
	assert.True(t, f.redis.Exists(shareCachePrefix+*vis.Slug))

	cached, err := f.svc.GetPublic(ctx, *vis.Slug)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, cached.OwnerID)
	assert.JSONEq(t, string(pub.Data), string(cached.Data))
}

func TestPublicCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "v1")
	require.NoError(t, err)
	vis, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	slug := *vis.Slug

	_, err = f.svc.GetPublic(ctx, slug)
	require.NoError(t, err)

	title := "v2"
	_, err = f.svc.Save(ctx, f.user.ID, r.ID, SaveInput{Title: &title})
	require.NoError(t, err)
	assert.False(t, f.redis.Exists(shareCachePrefix+slug))

	pub, err := f.svc.GetPublic(ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, "v2", pub.Title)

	fresh, err := f.svc.RegenerateSlug(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.NotEqual(t, slug, fresh)
	_, err = f.svc.GetPublic(ctx, slug)
	assert.ErrorIs(t, err, errcode.ErrNotPublic)
	_, err = f.svc.GetPublic(ctx, fresh)
	assert.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.user.ID, r.ID))
	_, err = f.svc.GetPublic(ctx, fresh)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestStaleShareFillIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "shared")
	require.NoError(t, err)
	vis, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	slug := *vis.Slug

	// 读者在数据库中读到公开状态后，所有者取消了公开。
	gen := f.svc.generation(ctx, slug)
	pub, err := f.svc.GetPublic(ctx, slug)
	require.NoError(t, err)
	_, err = f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)

	f.svc.store(ctx, slug, gen, pub)
	assert.False(t, f.redis.Exists(shareCachePrefix+slug), "late fill must not resurrect a private resume")
	_, err = f.svc.GetPublic(ctx, slug)
	assert.ErrorIs(t, err, errcode.ErrNotPublic)

	_, err = f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	_, err = f.svc.GetPublic(ctx, slug)
	require.NoError(t, err)
	assert.True(t, f.redis.Exists(shareCachePrefix+slug))
}

func TestGetPublicCallerCancelDoesNotAbortLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "shared")
	require.NoError(t, err)
	vis, err := f.svc.ToggleVisibility(ctx, f.user.ID, r.ID)
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := f.svc.GetPublic(cctx, *vis.Slug); err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Eventually(t, func() bool {
		return f.redis.Exists(shareCachePrefix + *vis.Slug)
	}, time.Second, 10*time.Millisecond, "the shared load finishes for other callers")

	pub, err := f.svc.GetPublic(ctx, *vis.Slug)
	require.NoError(t, err)
	assert.Equal(t, r.ID, pub.ID)
}

func TestGetPublicRejectsMalformedSlug(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetPublic(context.Background(), "../etc")
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestNewSlug(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := NewSlug()
		require.NoError(t, err)
		assert.Regexp(t, slugPattern, s)
		seen[s] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestExportUserDataIncludesDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, f.user.ID, "kept")
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, f.user.ID, "gone")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, f.user.ID, b.ID))

	out, err := f.svc.ExportUserData(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", out.User.Username)
	require.Len(t, out.Resumes, 2)

	byID := map[uint]ExportedResume{}
	for _, r := range out.Resumes {
		byID[r.ID] = r
	}
	assert.Nil(t, byID[a.ID].DeletedAt)
	assert.NotNil(t, byID[b.ID].DeletedAt)

	_, err = f.svc.ExportUserData(ctx, 9999)
	assert.ErrorIs(t, err, errcode.ErrNotAuthenticated)
}

func TestSetExportState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.user.ID, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.SetExportState(ctx, r.ID, database.ResumeStatusCompleted, "exports/1/x.pdf", ""))
	got, err := f.svc.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, database.ResumeStatusCompleted, got.Status)
	assert.Equal(t, "exports/1/x.pdf", got.PdfObjectKey)

	assert.ErrorIs(t, f.svc.SetExportState(ctx, 4242, database.ResumeStatusFailed, "", ""), errcode.ErrNotFound)
}

func TestBillingGrantAndRevoke(t *testing.T) {
	db := newTestDB(t)
	u := seedUser(t, db, "grace")
	ctx := context.Background()
	start := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

	b := NewBillingService(db, Plans{Quarterly: "P-Q", Yearly: "P-Y"}, nil)
	b.now = func() time.Time { return start }

	until, err := b.GrantPremium(ctx, u.ID, "I-1", TierYearly)
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(1, 0, 0), until)

	var got database.User
	require.NoError(t, db.First(&got, u.ID).Error)
	assert.True(t, got.IsPremium)
	assert.Equal(t, "yearly", got.PremiumTier)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, "I-1", *got.SubscriptionID)

	id, err := b.UserBySubscription(ctx, "I-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	require.NoError(t, b.RevokePremium(ctx, u.ID))
	require.NoError(t, db.First(&got, u.ID).Error)
	assert.False(t, got.IsPremium)
	assert.Empty(t, got.PremiumTier)
	assert.Nil(t, got.SubscriptionID)
	assert.NotNil(t, got.PremiumUntil)

	_, err = b.GrantPremium(ctx, u.ID, "I-2", Tier("weekly"))
	assert.True(t, errcode.IsValidation(err))
	_, err = b.GrantPremium(ctx, 404, "I-3", TierMonthly)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}

func TestBillingHandleEvent(t *testing.T) {
	db := newTestDB(t)
	u := seedUser(t, db, "linus")
	ctx := context.Background()
	b := NewBillingService(db, Plans{Quarterly: "P-Q", Yearly: "P-Y"}, nil)

	var ev WebhookEvent
	ev.EventType = EventSubscriptionActivated
	ev.Resource.ID = "I-9"
	ev.Resource.PlanID = "P-Q"
	ev.Resource.CustomID = fmt.Sprint(u.ID)

	handled, err := b.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, handled)

	var got database.User
	require.NoError(t, db.First(&got, u.ID).Error)
	assert.Equal(t, "quarterly", got.PremiumTier)

	// 无 custom_id 时按订阅 ID 反查。
	ev.EventType = EventSubscriptionSuspended
	ev.Resource.CustomID = ""
	handled, err = b.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, handled)
	require.NoError(t, db.First(&got, u.ID).Error)
	assert.False(t, got.IsPremium)

	ev.EventType = "BILLING.SUBSCRIPTION.UPDATED"
	ev.Resource.CustomID = fmt.Sprint(u.ID)
	handled, err = b.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, handled)

	ev.Resource.CustomID = ""
	ev.Resource.ID = "I-unknown"
	_, err = b.HandleEvent(ctx, ev)
	assert.ErrorIs(t, err, errcode.ErrNotFound)
}
