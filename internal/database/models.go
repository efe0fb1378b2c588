package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息，包含付费状态。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:64"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`

	IsPremium      bool       `gorm:"default:false"`
	PremiumTier    string     `gorm:"size:32"`
	PremiumUntil   *time.Time `gorm:"index"`
	SubscriptionID *string    `gorm:"uniqueIndex;size:128"`
	Resumes        []Resume   `gorm:"constraint:OnDelete:CASCADE"`
}

// PremiumActive 判断付费权益在 now 时刻是否有效。
func (u User) PremiumActive(now time.Time) bool {
	if !u.IsPremium {
		return false
	}
	return u.PremiumUntil == nil || u.PremiumUntil.After(now)
}

// 简历导出状态。
const (
	ResumeStatusDraft     = "draft"
	ResumeStatusExporting = "exporting"
	ResumeStatusCompleted = "completed"
	ResumeStatusFailed    = "failed"
)

// Resume 表示用户创建的简历内容。
// Data 为 JSONB 结构化数据；Slug 仅在首次公开时生成，取消公开后保留。
type Resume struct {
	gorm.Model
	Title            string         `gorm:"size:255"`
	Data             datatypes.JSON `gorm:"type:jsonb"`
	UserID           uint           `gorm:"index"`
	User             User           `gorm:"constraint:OnDelete:CASCADE"`
	IsPublic         bool           `gorm:"default:false;index"`
	Slug             *string        `gorm:"uniqueIndex;size:16"`
	Version          int            `gorm:"default:1"`
	PdfObjectKey     string         `gorm:"size:512"`
	PreviewObjectKey string         `gorm:"size:512"`
	Status           string         `gorm:"size:32;default:draft"`
}

// Models 返回需要迁移的全部模型。
func Models() []any {
	return []any{&User{}, &Resume{}}
}
