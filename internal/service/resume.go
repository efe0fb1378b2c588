// Package service 实现简历与计费相关的业务动作。
// 处理器只负责协议转换，所有权限、配额与缓存规则都在这里。
package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"civy/internal/database"
	"civy/internal/errcode"
	"civy/internal/resume"
)

const (
	// DefaultTitle 是新建简历的标题。
	DefaultTitle = "Untitled Resume"

	slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugLength   = 8
	slugAttempts = 5

	shareCachePrefix = "share:resume:"
	// shareGenPrefix 记录 slug 的失效次数，读路径据此丢弃过期的回填。
	shareGenPrefix = "share:gen:"
	shareGenTTL    = 24 * time.Hour
)

// Limits 是免费与付费用户可持有的简历数量上限。
type Limits struct {
	FreeMaxResumes    int
	PremiumMaxResumes int
}

// Summary 是列表页使用的简历摘要。
type Summary struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	IsPublic  bool      `json:"is_public"`
	Slug      *string   `json:"slug"`
}

// Record 是单份简历的完整视图（仅所有者可见）。
type Record struct {
	ID               uint          `json:"id"`
	UserID           uint          `json:"-"`
	Title            string        `json:"title"`
	Data             resume.Resume `json:"data"`
	IsPublic         bool          `json:"is_public"`
	Slug             *string       `json:"slug"`
	Version          int           `json:"version"`
	Status           string        `json:"status"`
	PdfObjectKey     string        `json:"-"`
	PreviewObjectKey string        `json:"-"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// PublicResume 是分享页可见的全部字段。OwnerID 仅供服务端读取头像，不对外输出。
type PublicResume struct {
	ID      uint            `json:"id"`
	Title   string          `json:"title"`
	Data    json.RawMessage `json:"data"`
	OwnerID uint            `json:"-"`
}

// shareEntry 是公开简历在 redis 中的缓存格式。
type shareEntry struct {
	PublicResume
	Owner uint `json:"owner"`
}

// Visibility 是切换公开状态后的结果。
type Visibility struct {
	IsPublic bool    `json:"is_public"`
	Slug     *string `json:"slug"`
}

// SaveInput 描述一次保存，nil 字段保持不变。
type SaveInput struct {
	Title *string
	Data  *resume.Resume
}

// ResumeService 负责简历的增删改查、分享与配额。
type ResumeService struct {
	db       *gorm.DB
	cache    redis.UniversalClient
	cacheTTL time.Duration
	limits   Limits
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewResumeService 构造服务；cache 为 nil 时公开页不走缓存。
func NewResumeService(db *gorm.DB, cache redis.UniversalClient, cacheTTL time.Duration, limits Limits, logger *slog.Logger) *ResumeService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ResumeService{
		db:       db,
		cache:    cache,
		cacheTTL: cacheTTL,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// List 返回用户未删除的简历，按更新时间倒序。
func (s *ResumeService) List(ctx context.Context, userID uint) ([]Summary, error) {
	var rows []database.Resume
	if err := s.db.WithContext(ctx).
		Select("id", "title", "updated_at", "is_public", "slug").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}

	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{ID: r.ID, Title: r.Title, UpdatedAt: r.UpdatedAt, IsPublic: r.IsPublic, Slug: r.Slug})
	}
	return out, nil
}

// Create 在配额内新建一份默认简历。
func (s *ResumeService) Create(ctx context.Context, userID uint, title string) (*Record, error) {
	data, err := resume.Encode(resume.Default())
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return s.insert(ctx, userID, title, data)
}

// Duplicate 复制一份简历；副本默认私有且没有分享链接。
func (s *ResumeService) Duplicate(ctx context.Context, userID, id uint) (*Record, error) {
	src, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, userID, src.Title+" (Copy)", src.Data)
}

func (s *ResumeService) insert(ctx context.Context, userID uint, title string, data datatypes.JSON) (*Record, error) {
	var created database.Resume
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住用户行，同一用户的并发新建在此串行，计数与插入之间不会被插队。
		// SQLite 没有行锁，gorm 的 sqlite 方言会省略该子句，写事务本身已串行。
		var user database.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "is_premium", "premium_until").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errcode.ErrNotAuthenticated
			}
			return fmt.Errorf("load user: %w", err)
		}

		var count int64
		if err := tx.Model(&database.Resume{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return fmt.Errorf("count resumes: %w", err)
		}
		if count >= int64(s.maxResumes(user)) {
			return errcode.ErrLimitExceeded
		}

		created = database.Resume{
			Title:   title,
			Data:    data,
			UserID:  userID,
			Version: 1,
			Status:  database.ResumeStatusDraft,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("create resume: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toRecord(created)
}

func (s *ResumeService) maxResumes(user database.User) int {
	if user.PremiumActive(s.now()) {
		return s.limits.PremiumMaxResumes
	}
	return s.limits.FreeMaxResumes
}

// Get 返回用户自己的简历。
func (s *ResumeService) Get(ctx context.Context, userID, id uint) (*Record, error) {
	row, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return toRecord(*row)
}

// Load 按 ID 读取简历而不校验所有者，仅供 worker 使用。
func (s *ResumeService) Load(ctx context.Context, id uint) (*Record, error) {
	var row database.Resume
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toRecord(row)
}

// Save 校验并保存标题与数据，成功后版本号加一。
func (s *ResumeService) Save(ctx context.Context, userID, id uint, in SaveInput) (*Record, error) {
	row, err := s.find(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			verr := &errcode.ValidationError{}
			verr.Add("title", "must not be empty")
			return nil, verr
		}
		updates["title"] = title
	}
	if in.Data != nil {
		if err := in.Data.Validate(); err != nil {
			return nil, err
		}
		data, err := resume.Encode(*in.Data)
		if err != nil {
			return nil, err
		}
		updates["data"] = datatypes.JSON(data)
	}
	if len(updates) == 0 {
		return toRecord(*row)
	}
	updates["version"] = gorm.Expr("version + 1")

	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("save resume: %w", err)
	}
	s.invalidate(ctx, row.Slug)

	return s.Get(ctx, userID, id)
}

// SetExportState 记录导出状态与生成物的对象 key，空 key 保持原值。
func (s *ResumeService) SetExportState(ctx context.Context, id uint, status, pdfKey, previewKey string) error {
	updates := map[string]any{"status": status}
	if pdfKey != "" {
		updates["pdf_object_key"] = pdfKey
	}
	if previewKey != "" {
		updates["preview_object_key"] = previewKey
	}
	res := s.db.WithContext(ctx).Model(&database.Resume{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update export state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.ErrNotFound
	}
	return nil
}

// SetPreviewKey 记录缩略图的对象 key，不影响导出状态。
func (s *ResumeService) SetPreviewKey(ctx context.Context, id uint, key string) error {
	res := s.db.WithContext(ctx).Model(&database.Resume{}).Where("id = ?", id).Update("preview_object_key", key)
	if res.Error != nil {
		return fmt.Errorf("update preview key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.ErrNotFound
	}
	return nil
}

// Delete 软删除简历，分享链接随之失效。
func (s *ResumeService) Delete(ctx context.Context, userID, id uint) error {
	row, err := s.find(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(row).Error; err != nil {
		return fmt.Errorf("delete resume: %w", err)
	}
	s.invalidate(ctx, row.Slug)
	return nil
}

// ToggleVisibility 切换公开状态。首次公开时生成 slug，取消公开保留 slug。
func (s *ResumeService) ToggleVisibility(ctx context.Context, userID, id uint) (Visibility, error) {
	row, err := s.find(ctx, userID, id)
	if err != nil {
		return Visibility{}, err
	}

	next := Visibility{IsPublic: !row.IsPublic, Slug: row.Slug}
	if next.IsPublic && row.Slug == nil {
		slug, err := s.uniqueSlug(ctx)
		if err != nil {
			return Visibility{}, err
		}
		next.Slug = &slug
	}

	if err := s.db.WithContext(ctx).Model(row).Updates(map[string]any{
		"is_public": next.IsPublic,
		"slug":      next.Slug,
	}).Error; err != nil {
		return Visibility{}, fmt.Errorf("toggle visibility: %w", err)
	}
	s.invalidate(ctx, row.Slug)
	return next, nil
}

// RegenerateSlug 生成新的 slug，旧链接立即失效。
func (s *ResumeService) RegenerateSlug(ctx context.Context, userID, id uint) (string, error) {
	row, err := s.find(ctx, userID, id)
	if err != nil {
		return "", err
	}
	slug, err := s.uniqueSlug(ctx)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Model(row).Update("slug", slug).Error; err != nil {
		return "", fmt.Errorf("regenerate slug: %w", err)
	}
	s.invalidate(ctx, row.Slug)
	return slug, nil
}

// GetPublic 按 slug 读取公开简历；不存在、已删除或私有时返回 ErrNotPublic。
func (s *ResumeService) GetPublic(ctx context.Context, slug string) (*PublicResume, error) {
	slug = strings.TrimSpace(slug)
	if !validSlug(slug) {
		return nil, errcode.ErrNotPublic
	}

	if pub, ok := s.cached(ctx, slug); ok {
		return pub, nil
	}

	// 共享的加载不随某个调用方取消而失败。
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(slug, func() (any, error) {
		gen := s.generation(loadCtx, slug)
		var row database.Resume
		err := s.db.WithContext(loadCtx).
			Select("id", "title", "data", "user_id").
			Where("slug = ? AND is_public = ?", slug, true).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errcode.ErrNotPublic
			}
			return nil, fmt.Errorf("load public resume: %w", err)
		}
		pub := &PublicResume{ID: row.ID, Title: row.Title, Data: json.RawMessage(row.Data), OwnerID: row.UserID}
		s.store(loadCtx, slug, gen, pub)
		return pub, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PublicResume), nil
	}
}

// generation 返回 slug 当前的失效计数，读失败时返回 -1，使本次回填被放弃。
func (s *ResumeService) generation(ctx context.Context, slug string) int64 {
	if s.cache == nil {
		return 0
	}
	n, err := s.cache.Get(ctx, shareGenPrefix+slug).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		return -1
	}
	return n
}

func (s *ResumeService) cached(ctx context.Context, slug string) (*PublicResume, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, shareCachePrefix+slug).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("share cache read failed", slog.String("slug", slug), slog.Any("error", err))
		}
		return nil, false
	}
	var entry shareEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	pub := entry.PublicResume
	pub.OwnerID = entry.Owner
	return &pub, true
}

var errStaleShare = errors.New("share entry invalidated during load")

// store 仅在读取数据库期间没有发生失效时回填缓存，
// 否则一次并发的取消公开可能被旧数据覆盖到 TTL 结束。
func (s *ResumeService) store(ctx context.Context, slug string, gen int64, pub *PublicResume) {
	if s.cache == nil || gen < 0 {
		return
	}
	raw, err := json.Marshal(shareEntry{PublicResume: *pub, Owner: pub.OwnerID})
	if err != nil {
		return
	}
	genKey := shareGenPrefix + slug
	err = s.cache.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleShare
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, shareCachePrefix+slug, raw, s.cacheTTL)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleShare), errors.Is(err, redis.TxFailedErr):
		s.logger.Debug("share cache fill skipped", slog.String("slug", slug))
	default:
		s.logger.Warn("share cache write failed", slog.String("slug", slug), slog.Any("error", err))
	}
}

func (s *ResumeService) invalidate(ctx context.Context, slug *string) {
	if s.cache == nil || slug == nil {
		return
	}
	genKey := shareGenPrefix + *slug
	_, err := s.cache.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, shareGenTTL)
		p.Del(ctx, shareCachePrefix+*slug)
		return nil
	})
	if err != nil {
		s.logger.Warn("share cache invalidate failed", slog.String("slug", *slug), slog.Any("error", err))
	}
}

func (s *ResumeService) find(ctx context.Context, userID, id uint) (*database.Resume, error) {
	var row database.Resume
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

func (s *ResumeService) uniqueSlug(ctx context.Context) (string, error) {
	for i := 0; i < slugAttempts; i++ {
		slug, err := NewSlug()
		if err != nil {
			return "", err
		}
		var count int64
		if err := s.db.WithContext(ctx).Unscoped().Model(&database.Resume{}).
			Where("slug = ?", slug).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if count == 0 {
			return slug, nil
		}
	}
	return "", errors.New("could not allocate a unique slug")
}

// NewSlug 返回 8 位 [a-z0-9] 随机串。
func NewSlug() (string, error) {
	var b strings.Builder
	b.Grow(slugLength)
	size := big.NewInt(int64(len(slugAlphabet)))
	for i := 0; i < slugLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		b.WriteByte(slugAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func validSlug(s string) bool {
	if len(s) != slugLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(slugAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errcode.ErrNotFound
	}
	return fmt.Errorf("query resume: %w", err)
}

func toRecord(row database.Resume) (*Record, error) {
	data, err := resume.Parse(row.Data)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:               row.ID,
		UserID:           row.UserID,
		Title:            row.Title,
		Data:             data,
		IsPublic:         row.IsPublic,
		Slug:             row.Slug,
		Version:          row.Version,
		Status:           row.Status,
		PdfObjectKey:     row.PdfObjectKey,
		PreviewObjectKey: row.PreviewObjectKey,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}
