// Package affiliate 推广结算服务
package affiliate

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/common/errors"
	"github.com/Vale50/teacher-assistant-backend/internal/common/logger"
	"github.com/Vale50/teacher-assistant-backend/internal/common/metrics"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
)

// 点击检测的回看窗口
const fraudClickWindow = 24 * time.Hour

// FraudService 防作弊检测
// 检测只打标记、累加可疑计数，从不阻断佣金生成，处置留给人工审核
type FraudService struct {
	affiliateRepo *repository.AffiliateRepository
	clickRepo     *repository.ClickRepository
	referralRepo  *repository.ReferralRepository
	userRepo      *repository.UserRepository
	cfg           *config.AffiliateConfig
}

// NewFraudService 创建防作弊检测服务
func NewFraudService(
	affiliateRepo *repository.AffiliateRepository,
	clickRepo *repository.ClickRepository,
	referralRepo *repository.ReferralRepository,
	userRepo *repository.UserRepository,
	cfg *config.AffiliateConfig,
) *FraudService {
	return &FraudService{
		affiliateRepo: affiliateRepo,
		clickRepo:     clickRepo,
		referralRepo:  referralRepo,
		userRepo:      userRepo,
		cfg:           cfg,
	}
}

// CheckAffiliate 对单个推广员跑全部检测
// 返回值表示本轮是否命中需要打 fraud_flag 的强信号（刷点击、转化率异常）；
// 同邮箱域名聚集是弱信号，只累加可疑计数不打标记
func (s *FraudService) CheckAffiliate(ctx context.Context, affiliateID int64) (bool, error) {
	affiliate, err := s.affiliateRepo.GetByID(ctx, affiliateID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return false, errors.ErrAffiliateNotFound
		}
		return false, errors.ErrDatabaseError.WithError(err)
	}

	flagged := false

	// 检测一：24 小时内单 IP 点击超限
	// 可疑计数按命中的检测项累加，一次巡检多个 IP 超限也只记一次
	since := time.Now().Add(-fraudClickWindow)
	ipCounts, err := s.clickRepo.CountByIPSince(ctx, affiliateID, since)
	if err != nil {
		return false, errors.ErrDatabaseError.WithError(err)
	}
	clickAbuse := false
	for ip, count := range ipCounts {
		if count > int64(s.cfg.FraudClickLimit) {
			clickAbuse = true
			if err := s.clickRepo.MarkSuspiciousByIP(ctx, affiliateID, ip, since); err != nil {
				return false, errors.ErrDatabaseError.WithError(err)
			}
			logger.Warn("检测到异常点击",
				logger.AffiliateID(affiliateID),
				logger.IP(ip))
		}
	}
	if clickAbuse {
		flagged = true
		if err := s.affiliateRepo.MarkFraud(ctx, affiliateID, true); err != nil {
			return false, errors.ErrDatabaseError.WithError(err)
		}
	}

	// 检测二：推荐量足够大且转化率异常高
	if affiliate.TotalReferrals > s.cfg.FraudMinReferrals &&
		affiliate.ConversionRate() > s.cfg.FraudConversionRate {
		flagged = true
		if err := s.affiliateRepo.MarkFraud(ctx, affiliateID, true); err != nil {
			return false, errors.ErrDatabaseError.WithError(err)
		}
		logger.Warn("检测到异常转化率", logger.AffiliateID(affiliateID))
	}

	// 检测三：被推荐邮箱域名与推广员本人相同的数量超限（弱信号，不打标记）
	sameDomain, err := s.countSameDomainReferrals(ctx, affiliate)
	if err != nil {
		return false, err
	}
	if sameDomain > s.cfg.FraudSelfReferralLimit {
		if err := s.affiliateRepo.MarkFraud(ctx, affiliateID, false); err != nil {
			return false, errors.ErrDatabaseError.WithError(err)
		}
		logger.Warn("检测到同域名邮箱聚集", logger.AffiliateID(affiliateID))
	}

	if flagged {
		metrics.GetMetrics().RecordFraudFlag()
	}
	return flagged, nil
}

// countSameDomainReferrals 统计与推广员邮箱同域名的推荐数量
func (s *FraudService) countSameDomainReferrals(ctx context.Context, affiliate *models.Affiliate) (int, error) {
	user, err := s.userRepo.GetByID(ctx, affiliate.UserID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	domain := models.EmailDomain(user.Email)
	if domain == "" {
		return 0, nil
	}

	referrals, err := s.referralRepo.ListAllByAffiliateID(ctx, affiliate.ID)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	count := 0
	for _, referral := range referrals {
		if referral.ReferredEmail != "" && models.EmailDomain(referral.ReferredEmail) == domain {
			count++
		}
	}
	return count, nil
}

// SweepRecentlyActive 对近期有点击的推广员批量跑检测（定时任务入口）
func (s *FraudService) SweepRecentlyActive(ctx context.Context) (int, error) {
	since := time.Now().Add(-fraudClickWindow)
	ids, err := s.affiliateRepo.ListIDsWithRecentClicks(ctx, since)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}

	checked := 0
	for _, id := range ids {
		if _, err := s.CheckAffiliate(ctx, id); err != nil {
			logger.Error("防作弊检测失败", logger.AffiliateID(id))
			continue
		}
		checked++
	}
	return checked, nil
}
