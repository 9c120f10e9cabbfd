// Package affiliate 推广结算服务
package affiliate

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/cache"
	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/common/errors"
	"github.com/Vale50/teacher-assistant-backend/internal/common/logger"
	"github.com/Vale50/teacher-assistant-backend/internal/common/metrics"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
)

// 月度续费批处理的分布式锁
const (
	recurringBatchLockKey = "lock:batch:recurring"
	recurringBatchLockTTL = 10 * time.Minute

	// 一个计费月按 30 天折算
	daysPerBillingMonth = 30
)

// CommissionService 佣金引擎
// 所有佣金写入以 (referral_id, commission_type) 为幂等键，重复投递不产生重复佣金
type CommissionService struct {
	db             *gorm.DB
	commissionRepo *repository.CommissionRepository
	referralRepo   *repository.ReferralRepository
	affiliateRepo  *repository.AffiliateRepository
	linkRepo       *repository.ProductLinkRepository
	cfg            *config.AffiliateConfig
}

// NewCommissionService 创建佣金引擎
func NewCommissionService(
	db *gorm.DB,
	commissionRepo *repository.CommissionRepository,
	referralRepo *repository.ReferralRepository,
	affiliateRepo *repository.AffiliateRepository,
	linkRepo *repository.ProductLinkRepository,
	cfg *config.AffiliateConfig,
) *CommissionService {
	return &CommissionService{
		db:             db,
		commissionRepo: commissionRepo,
		referralRepo:   referralRepo,
		affiliateRepo:  affiliateRepo,
		linkRepo:       linkRepo,
		cfg:            cfg,
	}
}

// CreateTrialSignupCommission 生成试用注册佣金
// 幂等：已存在时原样返回既有佣金，不做任何状态变更。
// converted/churned 的推荐也要查到：事件重放时同样原样返回，
// 状态推进由 CanAdvanceTo 拦住，不会把已转化的推荐拉回 trial
func (s *CommissionService) CreateTrialSignupCommission(ctx context.Context, userID int64) (*models.Commission, error) {
	referral, err := s.referralRepo.GetByReferredUserIDAndStatus(ctx, userID,
		models.ReferralStatusPending, models.ReferralStatusSignedUp, models.ReferralStatusTrial,
		models.ReferralStatusConverted, models.ReferralStatusChurned)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrReferralNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	affiliate, err := s.affiliateRepo.GetByID(ctx, referral.AffiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !affiliate.IsActive() {
		logger.Warn("推广员非活跃状态，跳过试用佣金",
			logger.AffiliateID(affiliate.ID), logger.ReferralID(referral.ID))
		return nil, errors.ErrAffiliateInactive
	}

	commission := &models.Commission{
		AffiliateID:    affiliate.ID,
		ReferralID:     referral.ID,
		CommissionType: models.CommissionTypeTrialSignup,
		Amount:         affiliate.TrialSignupCommission,
		Status:         models.CommissionStatusPending,
	}

	var created bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		created, txErr = s.commissionRepo.CreateIfAbsent(ctx, tx, commission)
		if txErr != nil {
			return txErr
		}
		if !created {
			return nil
		}

		// 试用佣金待审批，不动聚合账目，只推进推荐状态
		if referral.CanAdvanceTo(models.ReferralStatusTrial) {
			now := time.Now()
			if txErr := tx.Model(&models.Referral{}).
				Where("id = ?", referral.ID).
				Updates(map[string]interface{}{
					"status":           models.ReferralStatusTrial,
					"trial_started_at": now,
				}).Error; txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if created {
		metrics.GetMetrics().RecordCommission(models.CommissionTypeTrialSignup)
		logger.Info("试用佣金已生成",
			logger.CommissionID(commission.ID),
			logger.AffiliateID(affiliate.ID),
			logger.ReferralID(referral.ID))
	}
	return commission, nil
}

// CreateConversionCommission 生成付费转化佣金
// 佣金插入、推荐状态推进、推广员聚合账目与链接统计在同一事务内完成，
// 推广员行加 FOR UPDATE 锁串行化并发结算
func (s *CommissionService) CreateConversionCommission(ctx context.Context, userID int64, subscriptionID string) (*models.Commission, error) {
	referral, err := s.referralRepo.GetByReferredUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrReferralNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	affiliate, err := s.affiliateRepo.GetByID(ctx, referral.AffiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !affiliate.IsActive() {
		logger.Warn("推广员非活跃状态，跳过转化佣金",
			logger.AffiliateID(affiliate.ID), logger.ReferralID(referral.ID))
		return nil, errors.ErrAffiliateInactive
	}

	commission := &models.Commission{
		AffiliateID:    affiliate.ID,
		ReferralID:     referral.ID,
		CommissionType: models.CommissionTypeConversion,
		Amount:         affiliate.ConversionCommission,
		Status:         models.CommissionStatusApproved,
		SubscriptionID: subscriptionID,
	}

	var created bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 先锁推广员行，后续所有写入在锁内进行
		if _, txErr := s.affiliateRepo.GetForUpdate(ctx, tx, affiliate.ID); txErr != nil {
			return txErr
		}

		var txErr error
		created, txErr = s.commissionRepo.CreateIfAbsent(ctx, tx, commission)
		if txErr != nil {
			return txErr
		}
		if !created {
			return nil
		}

		now := time.Now()
		commission.ApprovedAt = &now
		if txErr := tx.Model(&models.Commission{}).
			Where("id = ?", commission.ID).
			Update("approved_at", now).Error; txErr != nil {
			return txErr
		}

		if txErr := tx.Model(&models.Referral{}).
			Where("id = ?", referral.ID).
			Updates(map[string]interface{}{
				"status":                 models.ReferralStatusConverted,
				"subscription_status":    models.SubscriptionStatusActive,
				"subscription_id":        subscriptionID,
				"conversion_at":          now,
				"lifetime_value":         gorm.Expr("lifetime_value + ?", commission.Amount),
				"total_commissions_paid": gorm.Expr("total_commissions_paid + ?", commission.Amount),
			}).Error; txErr != nil {
			return txErr
		}

		if txErr := tx.Model(&models.Affiliate{}).
			Where("id = ?", affiliate.ID).
			Updates(map[string]interface{}{
				"total_conversions": gorm.Expr("total_conversions + 1"),
				"pending_earnings":  gorm.Expr("pending_earnings + ?", commission.Amount),
				"total_earnings":    gorm.Expr("total_earnings + ?", commission.Amount),
			}).Error; txErr != nil {
			return txErr
		}

		if referral.ProductLinkID != nil {
			if txErr := tx.Model(&models.ProductLink{}).
				Where("id = ?", *referral.ProductLinkID).
				Updates(map[string]interface{}{
					"conversion_count": gorm.Expr("conversion_count + 1"),
					"earnings":         gorm.Expr("earnings + ?", commission.Amount),
				}).Error; txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if created {
		metrics.GetMetrics().RecordCommission(models.CommissionTypeConversion)
		logger.Info("转化佣金已生成",
			logger.CommissionID(commission.ID),
			logger.AffiliateID(affiliate.ID),
			logger.ReferralID(referral.ID))
	}
	return commission, nil
}

// CreateRecurringCommission 生成第 monthNumber 个月的续费佣金
// 推广员未开启续费分成时记日志并返回空佣金，不算错误
func (s *CommissionService) CreateRecurringCommission(ctx context.Context, userID int64, monthNumber int, subscriptionID string) (*models.Commission, error) {
	if monthNumber < 1 {
		return nil, errors.ErrInvalidParams
	}

	referral, err := s.referralRepo.GetByReferredUserIDAndStatus(ctx, userID, models.ReferralStatusConverted)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrReferralNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	affiliate, err := s.affiliateRepo.GetByID(ctx, referral.AffiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !affiliate.IsActive() {
		logger.Warn("推广员非活跃状态，跳过续费佣金",
			logger.AffiliateID(affiliate.ID), logger.ReferralID(referral.ID))
		return nil, errors.ErrAffiliateInactive
	}
	if !affiliate.RecurringEnabled {
		logger.Info("推广员未开启续费分成",
			logger.AffiliateID(affiliate.ID), logger.ReferralID(referral.ID))
		return nil, nil
	}

	commissionType := models.RecurringCommissionType(monthNumber)
	if subscriptionID == "" {
		subscriptionID = referral.SubscriptionID
	}
	commission := &models.Commission{
		AffiliateID:    affiliate.ID,
		ReferralID:     referral.ID,
		CommissionType: commissionType,
		Amount:         affiliate.RecurringCommission,
		Status:         models.CommissionStatusApproved,
		IsRecurring:    true,
		RecurringMonth: monthNumber,
		SubscriptionID: subscriptionID,
	}

	var created bool
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, txErr := s.affiliateRepo.GetForUpdate(ctx, tx, affiliate.ID); txErr != nil {
			return txErr
		}

		var txErr error
		created, txErr = s.commissionRepo.CreateIfAbsent(ctx, tx, commission)
		if txErr != nil {
			return txErr
		}
		if !created {
			return nil
		}

		now := time.Now()
		commission.ApprovedAt = &now
		if txErr := tx.Model(&models.Commission{}).
			Where("id = ?", commission.ID).
			Update("approved_at", now).Error; txErr != nil {
			return txErr
		}

		// months_subscribed 只前进不回退
		updates := map[string]interface{}{
			"lifetime_value":         gorm.Expr("lifetime_value + ?", commission.Amount),
			"total_commissions_paid": gorm.Expr("total_commissions_paid + ?", commission.Amount),
		}
		if monthNumber > referral.MonthsSubscribed {
			updates["months_subscribed"] = monthNumber
		}
		if txErr := tx.Model(&models.Referral{}).
			Where("id = ?", referral.ID).
			Updates(updates).Error; txErr != nil {
			return txErr
		}

		if txErr := tx.Model(&models.Affiliate{}).
			Where("id = ?", affiliate.ID).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings + ?", commission.Amount),
				"total_earnings":   gorm.Expr("total_earnings + ?", commission.Amount),
			}).Error; txErr != nil {
			return txErr
		}
		return nil
	})
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	if created {
		metrics.GetMetrics().RecordCommission(commissionType)
		logger.Info("续费佣金已生成",
			logger.CommissionID(commission.ID),
			logger.AffiliateID(affiliate.ID),
			logger.ReferralID(referral.ID),
			logger.CommissionType(commissionType))
	}
	return commission, nil
}

// HandleSubscriptionCancelled 订阅取消，推荐转入流失状态
// 找不到已转化的推荐记录视为无关用户，静默成功
func (s *CommissionService) HandleSubscriptionCancelled(ctx context.Context, userID int64) error {
	referral, err := s.referralRepo.GetByReferredUserIDAndStatus(ctx, userID, models.ReferralStatusConverted)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("订阅取消：用户无已转化推荐记录", logger.UserID(userID))
			return nil
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if !referral.CanAdvanceTo(models.ReferralStatusChurned) {
		return errors.ErrInvalidTransition
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ?", referral.ID).
		Updates(map[string]interface{}{
			"status":              models.ReferralStatusChurned,
			"subscription_status": models.SubscriptionStatusCanceled,
			"churned_at":          now,
		}).Error
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("推荐已流失", logger.ReferralID(referral.ID), logger.UserID(userID))
	return nil
}

// BatchResult 批处理结果
type BatchResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// ProcessMonthlyRecurringBatch 扫描活跃订阅的推荐并补发到期的续费佣金
// 每次运行对单条推荐至多补发一个月（months_subscribed+1），按天调度即可实现月度节奏；
// Redis 锁只用于避免并发调度的重复扫描，正确性由幂等键保证
func (s *CommissionService) ProcessMonthlyRecurringBatch(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{}

	if cache.GetClient() != nil {
		acquired, err := cache.SetNX(ctx, recurringBatchLockKey, 1, recurringBatchLockTTL)
		if err != nil {
			logger.Warn("批处理锁获取失败，继续执行", logger.Module("recurring_batch"))
		} else if !acquired {
			logger.Info("批处理已在其他实例运行，跳过", logger.Module("recurring_batch"))
			return result, nil
		} else {
			defer func() {
				_ = cache.Delete(context.Background(), recurringBatchLockKey)
			}()
		}
	}

	referrals, err := s.referralRepo.ListActiveConverted(ctx)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	for _, referral := range referrals {
		if referral.ReferredUserID == nil || referral.ConversionAt == nil {
			continue
		}

		elapsedMonths := int(time.Since(*referral.ConversionAt).Hours() / 24 / daysPerBillingMonth)
		if elapsedMonths <= referral.MonthsSubscribed {
			continue
		}

		// 每轮只补发下一个月，欠多月的推荐靠后续轮次追平
		month := referral.MonthsSubscribed + 1
		commission, err := s.CreateRecurringCommission(ctx, *referral.ReferredUserID, month, referral.SubscriptionID)
		if err != nil {
			logger.Error("续费佣金补发失败",
				logger.ReferralID(referral.ID),
				logger.CommissionType(models.RecurringCommissionType(month)))
			result.Errors++
			continue
		}
		// 未开启续费分成的推广员不产生佣金，两个计数都不记
		if commission == nil {
			continue
		}
		result.Processed++
	}

	metrics.GetMetrics().RecordBatchResult(result.Processed, result.Errors)
	logger.Info("月度续费批处理完成",
		logger.Module("recurring_batch"),
		logger.Action("process"))
	return result, nil
}
