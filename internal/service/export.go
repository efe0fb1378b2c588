package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"civy/internal/database"
	"civy/internal/errcode"
)

// UserExport 是 GDPR 数据导出的完整内容。
type UserExport struct {
	ExportedAt time.Time        `json:"exportedAt"`
	User       ExportedUser     `json:"user"`
	Profile    ExportedProfile  `json:"profile"`
	Resumes    []ExportedResume `json:"resumes"`
}

type ExportedUser struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type ExportedProfile struct {
	IsPremium      bool       `json:"is_premium"`
	PremiumTier    string     `json:"premium_tier,omitempty"`
	PremiumUntil   *time.Time `json:"premium_until,omitempty"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
}

// ExportedResume 包含已软删除的简历。
type ExportedResume struct {
	ID        uint            `json:"id"`
	Title     string          `json:"title"`
	Slug      *string         `json:"slug"`
	Data      json.RawMessage `json:"data"`
	IsPublic  bool            `json:"is_public"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at"`
}

// ExportUserData 汇总用户的账号、付费信息与全部简历（含已删除）。
func (s *ResumeService) ExportUserData(ctx context.Context, userID uint) (*UserExport, error) {
	var user database.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.ErrNotAuthenticated
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var rows []database.Resume
	if err := s.db.WithContext(ctx).Unscoped().
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list resumes for export: %w", err)
	}

	out := &UserExport{
		ExportedAt: s.now().UTC(),
		User:       ExportedUser{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt},
		Profile: ExportedProfile{
			IsPremium:      user.IsPremium,
			PremiumTier:    user.PremiumTier,
			PremiumUntil:   user.PremiumUntil,
			SubscriptionID: user.SubscriptionID,
		},
		Resumes: make([]ExportedResume, 0, len(rows)),
	}
	for _, r := range rows {
		er := ExportedResume{
			ID:        r.ID,
			Title:     r.Title,
			Slug:      r.Slug,
			Data:      json.RawMessage(r.Data),
			IsPublic:  r.IsPublic,
			Version:   r.Version,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		}
		if r.DeletedAt.Valid {
			t := r.DeletedAt.Time
			er.DeletedAt = &t
		}
		out.Resumes = append(out.Resumes, er)
	}
	return out, nil
}
