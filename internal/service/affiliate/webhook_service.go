// Package affiliate 推广结算服务
package affiliate

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/cache"
	"github.com/Vale50/teacher-assistant-backend/internal/common/errors"
	"github.com/Vale50/teacher-assistant-backend/internal/common/logger"
	"github.com/Vale50/teacher-assistant-backend/internal/common/metrics"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
)

// 支付平台回调事件类型（Stripe 点分命名与历史下划线别名都接受）
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// eventAliases 下划线别名到规范事件名的映射
var eventAliases = map[string]string{
	"subscription_created":      EventSubscriptionCreated,
	"invoice_payment_succeeded": EventPaymentSucceeded,
	"subscription_deleted":      EventSubscriptionDeleted,
}

// 邮箱解析缓存有效期
const resolverCacheTTL = 10 * time.Minute

// IdentityResolver 把回调里的客户邮箱解析成站内用户
type IdentityResolver interface {
	ResolveUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// CachedUserResolver 经 Redis 缓存读 users 表的默认解析器
type CachedUserResolver struct {
	userRepo *repository.UserRepository
}

// NewCachedUserResolver 创建默认邮箱解析器
func NewCachedUserResolver(userRepo *repository.UserRepository) *CachedUserResolver {
	return &CachedUserResolver{userRepo: userRepo}
}

// ResolveUserByEmail 按邮箱解析用户，缓存命中时不回表
func (r *CachedUserResolver) ResolveUserByEmail(ctx context.Context, email string) (*models.User, error) {
	key := cache.KeyPrefixResolver + email

	if cache.GetClient() != nil {
		if cached, err := cache.GetString(ctx, key); err == nil && cached != "" {
			if userID, err := strconv.ParseInt(cached, 10, 64); err == nil {
				metrics.GetMetrics().RecordCacheHit("resolver")
				return r.userRepo.GetByID(ctx, userID)
			}
		}
		metrics.GetMetrics().RecordCacheMiss("resolver")
	}

	user, err := r.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if cache.GetClient() != nil {
		_ = cache.SetString(ctx, key, strconv.FormatInt(user.ID, 10), resolverCacheTTL)
	}
	return user, nil
}

// WebhookEventData 回调事件载荷
type WebhookEventData struct {
	CustomerEmail string `json:"customer_email"`
	ID            string `json:"id,omitempty"`
	Subscription  string `json:"subscription,omitempty"`
}

// WebhookEvent 回调事件
type WebhookEvent struct {
	EventType string           `json:"event_type"`
	Data      WebhookEventData `json:"data"`
}

// WebhookService 支付平台回调接入
// 适配层自身不做去重，重复投递的正确性由佣金幂等键兜底；
// 未知事件、无法解析的邮箱按成功处理，避免支付平台重试风暴
type WebhookService struct {
	commissionService *CommissionService
	referralRepo      *repository.ReferralRepository
	resolver          IdentityResolver
}

// NewWebhookService 创建回调接入服务
func NewWebhookService(
	commissionSvc *CommissionService,
	referralRepo *repository.ReferralRepository,
	resolver IdentityResolver,
) *WebhookService {
	return &WebhookService{
		commissionService: commissionSvc,
		referralRepo:      referralRepo,
		resolver:          resolver,
	}
}

// HandleEvent 处理单个回调事件
func (s *WebhookService) HandleEvent(ctx context.Context, event *WebhookEvent) error {
	eventType := event.EventType
	if canonical, ok := eventAliases[eventType]; ok {
		eventType = canonical
	}

	m := metrics.GetMetrics()

	switch eventType {
	case EventSubscriptionCreated, EventPaymentSucceeded, EventSubscriptionDeleted:
	default:
		logger.Info("忽略未知回调事件", logger.EventType(event.EventType))
		m.RecordWebhookEvent(event.EventType, "ignored")
		return nil
	}

	if event.Data.CustomerEmail == "" {
		logger.Info("回调事件缺少客户邮箱", logger.EventType(eventType))
		m.RecordWebhookEvent(eventType, "ignored")
		return nil
	}

	user, err := s.resolver.ResolveUserByEmail(ctx, event.Data.CustomerEmail)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("回调邮箱未匹配到站内用户", logger.EventType(eventType))
			m.RecordWebhookEvent(eventType, "unresolved")
			return nil
		}
		m.RecordWebhookEvent(eventType, "error")
		return errors.ErrDatabaseError.WithError(err)
	}

	subscriptionID := event.Data.Subscription
	if subscriptionID == "" {
		subscriptionID = event.Data.ID
	}

	switch eventType {
	case EventSubscriptionCreated:
		err = s.handleSubscriptionCreated(ctx, user.ID, subscriptionID)
	case EventPaymentSucceeded:
		err = s.handlePaymentSucceeded(ctx, user.ID, subscriptionID)
	case EventSubscriptionDeleted:
		err = s.commissionService.HandleSubscriptionCancelled(ctx, user.ID)
	}

	if err != nil {
		// 推荐不存在是正常情况：大部分付费用户不是被推荐来的
		if stderrors.Is(err, errors.ErrReferralNotFound) || stderrors.Is(err, errors.ErrAffiliateInactive) {
			logger.Info("回调事件无需计佣",
				logger.EventType(eventType), logger.UserID(user.ID))
			m.RecordWebhookEvent(eventType, "skipped")
			return nil
		}
		m.RecordWebhookEvent(eventType, "error")
		return err
	}

	m.RecordWebhookEvent(eventType, "success")
	return nil
}

// handleSubscriptionCreated 订阅创建 → 转化佣金
func (s *WebhookService) handleSubscriptionCreated(ctx context.Context, userID int64, subscriptionID string) error {
	_, err := s.commissionService.CreateConversionCommission(ctx, userID, subscriptionID)
	return err
}

// handlePaymentSucceeded 续费成功 → 下一个月的续费佣金
func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, userID int64, subscriptionID string) error {
	referral, err := s.referralRepo.GetByReferredUserIDAndStatus(ctx, userID, models.ReferralStatusConverted)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrReferralNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	_, err = s.commissionService.CreateRecurringCommission(ctx, userID, referral.MonthsSubscribed+1, subscriptionID)
	return err
}
