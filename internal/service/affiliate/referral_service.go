// Package affiliate 推广结算服务
package affiliate

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/errors"
	"github.com/Vale50/teacher-assistant-backend/internal/common/logger"
	"github.com/Vale50/teacher-assistant-backend/internal/common/metrics"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
)

// ReferralService 推荐生命周期服务
// 状态机只允许单向推进：pending → signed_up → trial → converted → churned，
// 长期未注册的 pending 由定时任务旁路到 expired
type ReferralService struct {
	db                *gorm.DB
	referralRepo      *repository.ReferralRepository
	affiliateRepo     *repository.AffiliateRepository
	linkRepo          *repository.ProductLinkRepository
	clickRepo         *repository.ClickRepository
	commissionService *CommissionService
}

// NewReferralService 创建推荐生命周期服务
func NewReferralService(
	db *gorm.DB,
	referralRepo *repository.ReferralRepository,
	affiliateRepo *repository.AffiliateRepository,
	linkRepo *repository.ProductLinkRepository,
	clickRepo *repository.ClickRepository,
	commissionSvc *CommissionService,
) *ReferralService {
	return &ReferralService{
		db:                db,
		referralRepo:      referralRepo,
		affiliateRepo:     affiliateRepo,
		linkRepo:          linkRepo,
		clickRepo:         clickRepo,
		commissionService: commissionSvc,
	}
}

// RecordClick 记录推广链接点击
// 同一推广员、同一 IP 的未注册推荐只保留一条，快速重复点击累加其点击数；
// 点击日志始终追加，供防作弊检测消费
func (s *ReferralService) RecordClick(ctx context.Context, shortCode, ip, userAgent, referer string) (*models.Referral, error) {
	link, err := s.linkRepo.GetByShortCode(ctx, shortCode)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrLinkNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !link.IsActive {
		return nil, errors.ErrLinkInactive
	}

	existing, err := s.referralRepo.GetOpenByAffiliateAndIP(ctx, link.AffiliateID, ip)
	if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	var referral *models.Referral
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if existing != nil {
			// 重复点击：只累加计数，不新开推荐
			referral = existing
			if txErr := tx.Model(&models.Referral{}).
				Where("id = ?", referral.ID).
				Update("click_count", gorm.Expr("click_count + 1")).Error; txErr != nil {
				return txErr
			}
			referral.ClickCount++
		} else {
			referral = &models.Referral{
				AffiliateID:   link.AffiliateID,
				ProductLinkID: &link.ID,
				Status:        models.ReferralStatusPending,
				Source:        link.ProductType,
				IPAddress:     ip,
				UserAgent:     userAgent,
				ClickCount:    1,
			}
			if txErr := tx.Create(referral).Error; txErr != nil {
				return txErr
			}
			if txErr := tx.Model(&models.Affiliate{}).
				Where("id = ?", link.AffiliateID).
				Updates(map[string]interface{}{
					"total_referrals": gorm.Expr("total_referrals + 1"),
					"last_click_ip":   ip,
				}).Error; txErr != nil {
				return txErr
			}
		}

		click := &models.Click{
			AffiliateID:   link.AffiliateID,
			ProductLinkID: &link.ID,
			ReferralID:    &referral.ID,
			IPAddress:     ip,
			UserAgent:     userAgent,
			Referer:       referer,
		}
		if txErr := tx.Create(click).Error; txErr != nil {
			return txErr
		}

		return tx.Model(&models.ProductLink{}).
			Where("id = ?", link.ID).
			Update("click_count", gorm.Expr("click_count + 1")).Error
	})
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	metrics.GetMetrics().RecordClick()
	return referral, nil
}

// RecordSignup 注册时回填被推荐人身份并推进到 signed_up
// 先按邮箱匹配，未命中再按点击会话的来源 IP 兜底；
// 大多数注册没有推荐来源，找不到推荐记录返回 ErrReferralNotFound，调用方记日志后忽略
func (s *ReferralService) RecordSignup(ctx context.Context, email, ip string, userID int64) (*models.Referral, error) {
	referral, err := s.referralRepo.GetOpenByEmail(ctx, email)
	if err != nil {
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		if ip == "" {
			return nil, errors.ErrReferralNotFound
		}
		referral, err = s.referralRepo.GetOpenByIP(ctx, ip)
		if err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.ErrReferralNotFound
			}
			return nil, errors.ErrDatabaseError.WithError(err)
		}
	}

	// 推广员不能推荐自己
	affiliate, err := s.affiliateRepo.GetByID(ctx, referral.AffiliateID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if affiliate.UserID == userID {
		return nil, errors.ErrSelfReferral
	}

	if referral.Status == models.ReferralStatusSignedUp && referral.ReferredUserID != nil {
		// 重复投递：已回填过，原样返回
		return referral, nil
	}
	if !referral.CanAdvanceTo(models.ReferralStatusSignedUp) {
		return nil, errors.ErrInvalidTransition
	}

	now := time.Now()
	referral.Status = models.ReferralStatusSignedUp
	referral.ReferredUserID = &userID
	referral.ReferredEmail = email
	referral.SignupAt = &now
	if err := s.referralRepo.Update(ctx, referral); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("推荐注册回填完成",
		logger.ReferralID(referral.ID),
		logger.AffiliateID(referral.AffiliateID),
		logger.UserID(userID))
	return referral, nil
}

// RecordTrialStart 试用开始，交由佣金引擎生成试用佣金并推进推荐状态
func (s *ReferralService) RecordTrialStart(ctx context.Context, userID int64) (*models.Commission, error) {
	return s.commissionService.CreateTrialSignupCommission(ctx, userID)
}

// RecordChurn 订阅取消导致的流失
func (s *ReferralService) RecordChurn(ctx context.Context, userID int64) error {
	return s.commissionService.HandleSubscriptionCancelled(ctx, userID)
}

// GetByID 获取推荐详情
func (s *ReferralService) GetByID(ctx context.Context, id int64) (*models.Referral, error) {
	referral, err := s.referralRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrReferralNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return referral, nil
}
