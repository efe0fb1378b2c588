package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"civy/internal/database"
	"civy/internal/errcode"
)

// Tier 是订阅周期。
type Tier string

const (
	TierMonthly   Tier = "monthly"
	TierQuarterly Tier = "quarterly"
	TierYearly    Tier = "yearly"
)

// Until 返回从 from 起算的权益到期时间。
func (t Tier) Until(from time.Time) (time.Time, error) {
	switch t {
	case TierMonthly:
		return from.AddDate(0, 1, 0), nil
	case TierQuarterly:
		return from.AddDate(0, 3, 0), nil
	case TierYearly:
		return from.AddDate(1, 0, 0), nil
	}
	verr := &errcode.ValidationError{}
	verr.Add("tier", "must be one of monthly, quarterly, yearly")
	return time.Time{}, verr
}

// 支付回调事件类型。
const (
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
)

// WebhookEvent 是订阅回调的最小字段集合。
type WebhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		PlanID   string `json:"plan_id"`
		CustomID string `json:"custom_id"`
	} `json:"resource"`
}

// Plans 将支付方的 plan id 映射为订阅周期，未匹配的按月处理。
type Plans struct {
	Quarterly string
	Yearly    string
}

func (p Plans) tier(planID string) Tier {
	switch {
	case planID != "" && planID == p.Yearly:
		return TierYearly
	case planID != "" && planID == p.Quarterly:
		return TierQuarterly
	default:
		return TierMonthly
	}
}

// BillingService 只负责授予与撤销付费权益，不调用任何支付 API。
type BillingService struct {
	db     *gorm.DB
	plans  Plans
	logger *slog.Logger
	now    func() time.Time
}

func NewBillingService(db *gorm.DB, plans Plans, logger *slog.Logger) *BillingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingService{db: db, plans: plans, logger: logger, now: time.Now}
}

// GrantPremium 记录订阅并把到期时间设为 now + tier。
func (s *BillingService) GrantPremium(ctx context.Context, userID uint, subscriptionID string, tier Tier) (time.Time, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		verr := &errcode.ValidationError{}
		verr.Add("subscriptionId", "is required")
		return time.Time{}, verr
	}
	until, err := tier.Until(s.now())
	if err != nil {
		return time.Time{}, err
	}

	res := s.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID).Updates(map[string]any{
		"is_premium":      true,
		"premium_tier":    string(tier),
		"premium_until":   until,
		"subscription_id": subscriptionID,
	})
	if res.Error != nil {
		return time.Time{}, fmt.Errorf("grant premium: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return time.Time{}, errcode.ErrNotFound
	}
	s.logger.Info("premium granted",
		slog.Uint64("user_id", uint64(userID)),
		slog.String("tier", string(tier)),
		slog.Time("until", until),
	)
	return until, nil
}

// RevokePremium 取消付费状态；premium_until 保留作为历史记录。
func (s *BillingService) RevokePremium(ctx context.Context, userID uint) error {
	res := s.db.WithContext(ctx).Model(&database.User{}).Where("id = ?", userID).Updates(map[string]any{
		"is_premium":      false,
		"premium_tier":    "",
		"subscription_id": nil,
	})
	if res.Error != nil {
		return fmt.Errorf("revoke premium: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.ErrNotFound
	}
	s.logger.Info("premium revoked", slog.Uint64("user_id", uint64(userID)))
	return nil
}

// UserBySubscription 按订阅 ID 查找用户。
func (s *BillingService) UserBySubscription(ctx context.Context, subscriptionID string) (uint, error) {
	var user database.User
	if err := s.db.WithContext(ctx).Select("id").
		Where("subscription_id = ?", subscriptionID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errcode.ErrNotFound
		}
		return 0, fmt.Errorf("lookup subscription: %w", err)
	}
	return user.ID, nil
}

// HandleEvent 处理订阅回调。custom_id 携带用户 ID，缺失时按订阅 ID 反查。
// 返回 false 表示事件类型无需处理。
func (s *BillingService) HandleEvent(ctx context.Context, ev WebhookEvent) (bool, error) {
	subID := strings.TrimSpace(ev.Resource.ID)
	if subID == "" {
		verr := &errcode.ValidationError{}
		verr.Add("resource.id", "is required")
		return false, verr
	}

	var userID uint
	if custom := strings.TrimSpace(ev.Resource.CustomID); custom != "" {
		id, err := strconv.ParseUint(custom, 10, 64)
		if err != nil {
			verr := &errcode.ValidationError{}
			verr.Add("resource.custom_id", "must be a user id")
			return false, verr
		}
		userID = uint(id)
	} else {
		id, err := s.UserBySubscription(ctx, subID)
		if err != nil {
			return false, err
		}
		userID = id
	}

	switch ev.EventType {
	case EventSubscriptionActivated:
		_, err := s.GrantPremium(ctx, userID, subID, s.plans.tier(ev.Resource.PlanID))
		return true, err
	case EventSubscriptionCancelled, EventSubscriptionExpired, EventSubscriptionSuspended:
		return true, s.RevokePremium(ctx, userID)
	default:
		s.logger.Info("unhandled billing event", slog.String("event_type", ev.EventType))
		return false, nil
	}
}
