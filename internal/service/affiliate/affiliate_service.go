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
	"github.com/Vale50/teacher-assistant-backend/internal/common/utils"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
)

// 推广码与短码生成参数
const (
	affiliateCodeLength = 8
	shortCodeLength     = 10
	codeGenMaxAttempts  = 5
)

// AffiliateService 推广员账户、结算与后台管理
type AffiliateService struct {
	db             *gorm.DB
	affiliateRepo  *repository.AffiliateRepository
	linkRepo       *repository.ProductLinkRepository
	referralRepo   *repository.ReferralRepository
	commissionRepo *repository.CommissionRepository
	payoutRepo     *repository.PayoutRepository
	userRepo       *repository.UserRepository
	cfg            *config.AffiliateConfig
}

// NewAffiliateService 创建推广员服务
func NewAffiliateService(
	db *gorm.DB,
	affiliateRepo *repository.AffiliateRepository,
	linkRepo *repository.ProductLinkRepository,
	referralRepo *repository.ReferralRepository,
	commissionRepo *repository.CommissionRepository,
	payoutRepo *repository.PayoutRepository,
	userRepo *repository.UserRepository,
	cfg *config.AffiliateConfig,
) *AffiliateService {
	return &AffiliateService{
		db:             db,
		affiliateRepo:  affiliateRepo,
		linkRepo:       linkRepo,
		referralRepo:   referralRepo,
		commissionRepo: commissionRepo,
		payoutRepo:     payoutRepo,
		userRepo:       userRepo,
		cfg:            cfg,
	}
}

// RegisterRequest 推广员注册请求
type RegisterRequest struct {
	PaymentMethod string `json:"payment_method"`
	PaymentEmail  string `json:"payment_email"`
	TermsAccepted bool   `json:"terms_accepted" binding:"required"`
}

// Register 注册为推广员
// 已注册直接返回既有账户，重复提交不报错
func (s *AffiliateService) Register(ctx context.Context, userID int64, req *RegisterRequest) (*models.Affiliate, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUserNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	existing, err := s.affiliateRepo.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	affiliate := &models.Affiliate{
		UserID:                 userID,
		Code:                   code,
		Status:                 models.AffiliateStatusActive,
		TrialSignupCommission:  s.cfg.TrialSignupCommission,
		ConversionCommission:   s.cfg.ConversionCommission,
		RecurringCommission:    s.cfg.RecurringCommission,
		RecurringEnabled:       s.cfg.RecurringEnabled,
		MinimumPayoutThreshold: s.cfg.MinimumPayoutThreshold,
		PaymentMethod:          req.PaymentMethod,
		PaymentEmail:           req.PaymentEmail,
		TermsAccepted:          req.TermsAccepted,
	}
	if req.TermsAccepted {
		affiliate.TermsAcceptedAt = &now
	}

	if err := s.affiliateRepo.Create(ctx, affiliate); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("推广员注册成功",
		logger.AffiliateID(affiliate.ID), logger.UserID(userID))
	return affiliate, nil
}

// generateUniqueCode 生成未被占用的推广码
func (s *AffiliateService) generateUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeGenMaxAttempts; i++ {
		code := utils.GenerateAffiliateCode(affiliateCodeLength)
		exists, err := s.affiliateRepo.CodeExists(ctx, code)
		if err != nil {
			return "", errors.ErrDatabaseError.WithError(err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.ErrCodeGenerateFailed
}

// GetByUserID 获取当前用户的推广员账户
func (s *AffiliateService) GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error) {
	affiliate, err := s.affiliateRepo.GetByUserID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliate, nil
}

// DashboardStats 推广员仪表盘统计
type DashboardStats struct {
	Affiliate       *models.Affiliate           `json:"affiliate"`
	ConversionRate  float64                     `json:"conversion_rate"`
	CommissionStats *repository.CommissionStats `json:"commission_stats"`
	TrialCount      int64                       `json:"trial_count"`
	ConvertedCount  int64                       `json:"converted_count"`
	ChurnedCount    int64                       `json:"churned_count"`
}

// GetDashboardStats 获取仪表盘统计
func (s *AffiliateService) GetDashboardStats(ctx context.Context, userID int64) (*DashboardStats, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	commissionStats, err := s.commissionRepo.GetStatsByAffiliateID(ctx, affiliate.ID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	stats := &DashboardStats{
		Affiliate:       affiliate,
		ConversionRate:  affiliate.ConversionRate(),
		CommissionStats: commissionStats,
	}

	for status, dest := range map[string]*int64{
		models.ReferralStatusTrial:     &stats.TrialCount,
		models.ReferralStatusConverted: &stats.ConvertedCount,
		models.ReferralStatusChurned:   &stats.ChurnedCount,
	} {
		count, err := s.referralRepo.CountByAffiliateAndStatus(ctx, affiliate.ID, status)
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		*dest = count
	}

	return stats, nil
}

// ListReferrals 分页获取推荐记录
func (s *AffiliateService) ListReferrals(ctx context.Context, userID int64, offset, limit int) ([]*models.Referral, int64, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.referralRepo.ListByAffiliateID(ctx, affiliate.ID, offset, limit)
}

// ListCommissions 分页获取佣金记录
func (s *AffiliateService) ListCommissions(ctx context.Context, userID int64, offset, limit int) ([]*models.Commission, int64, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.commissionRepo.ListByAffiliateID(ctx, affiliate.ID, offset, limit)
}

// ListPayouts 分页获取结算记录
func (s *AffiliateService) ListPayouts(ctx context.Context, userID int64, offset, limit int) ([]*models.Payout, int64, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.payoutRepo.ListByAffiliateID(ctx, affiliate.ID, offset, limit)
}

// CatalogProduct 可推广商品
type CatalogProduct struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnsureProductLinks 为推广员补齐商品推广链接
// 每个商品一条链接，已存在的链接原样保留
func (s *AffiliateService) EnsureProductLinks(ctx context.Context, affiliateID int64, catalog []CatalogProduct) ([]*models.ProductLink, error) {
	links := make([]*models.ProductLink, 0, len(catalog))
	for _, product := range catalog {
		existing, err := s.linkRepo.GetByAffiliateAndProduct(ctx, affiliateID, product.ID)
		if err == nil {
			links = append(links, existing)
			continue
		}
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDatabaseError.WithError(err)
		}

		shortCode, err := s.generateUniqueShortCode(ctx)
		if err != nil {
			return nil, err
		}
		link := &models.ProductLink{
			AffiliateID: affiliateID,
			ProductType: product.Type,
			ProductID:   product.ID,
			ProductName: product.Name,
			ShortCode:   shortCode,
			IsActive:    true,
		}
		if err := s.linkRepo.Create(ctx, link); err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		links = append(links, link)
	}
	return links, nil
}

// generateUniqueShortCode 生成未被占用的链接短码
func (s *AffiliateService) generateUniqueShortCode(ctx context.Context) (string, error) {
	for i := 0; i < codeGenMaxAttempts; i++ {
		code := utils.GenerateShortCode(shortCodeLength)
		exists, err := s.linkRepo.ShortCodeExists(ctx, code)
		if err != nil {
			return "", errors.ErrDatabaseError.WithError(err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.ErrCodeGenerateFailed
}

// ListLinks 获取推广员的全部推广链接
func (s *AffiliateService) ListLinks(ctx context.Context, userID int64) ([]*models.ProductLink, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	links, err := s.linkRepo.ListByAffiliateID(ctx, affiliate.ID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return links, nil
}

// GetOwnedLink 获取归属当前用户的单条推广链接
func (s *AffiliateService) GetOwnedLink(ctx context.Context, userID, linkID int64) (*models.ProductLink, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	link, err := s.linkRepo.GetByID(ctx, linkID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrLinkNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if link.AffiliateID != affiliate.ID {
		return nil, errors.ErrLinkNotFound
	}
	return link, nil
}

// CreatePayout 发起结算
// 聚合不变量 total = pending + paid 在整个事务内保持：
// 已批准佣金标记为已结算、待结算余额划转到已结算、生成结算批次，三者同生共死
func (s *AffiliateService) CreatePayout(ctx context.Context, userID int64) (*models.Payout, error) {
	affiliate, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var payout *models.Payout
	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, txErr := s.affiliateRepo.GetForUpdate(ctx, tx, affiliate.ID)
		if txErr != nil {
			return txErr
		}

		if locked.PendingEarnings < locked.MinimumPayoutThreshold {
			return errors.ErrPayoutBelowThreshold
		}

		var commissions []*models.Commission
		if txErr := tx.WithContext(ctx).
			Where("affiliate_id = ? AND status = ? AND payout_id IS NULL",
				locked.ID, models.CommissionStatusApproved).
			Order("id").
			Find(&commissions).Error; txErr != nil {
			return txErr
		}
		if len(commissions) == 0 {
			return errors.ErrNothingToPayout
		}

		var amount float64
		ids := make([]int64, 0, len(commissions))
		for _, c := range commissions {
			amount += c.Amount
			ids = append(ids, c.ID)
		}

		now := time.Now()
		payout = &models.Payout{
			PayoutNo:        utils.GeneratePayoutNo("P"),
			AffiliateID:     locked.ID,
			Amount:          amount,
			PaymentMethod:   locked.PaymentMethod,
			PaymentEmail:    locked.PaymentEmail,
			Status:          models.PayoutStatusPending,
			CommissionCount: len(commissions),
		}
		if txErr := tx.Create(payout).Error; txErr != nil {
			return txErr
		}

		if txErr := tx.Model(&models.Commission{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.CommissionStatusPaid,
				"payout_id": payout.ID,
				"paid_at":   now,
			}).Error; txErr != nil {
			return txErr
		}

		return tx.Model(&models.Affiliate{}).
			Where("id = ?", locked.ID).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings - ?", amount),
				"paid_earnings":    gorm.Expr("paid_earnings + ?", amount),
				"last_payout_at":   now,
			}).Error
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("结算批次已创建",
		logger.PayoutNo(payout.PayoutNo),
		logger.AffiliateID(payout.AffiliateID))
	return payout, nil
}

// ApproveCommission 审批通过佣金（试用佣金在审批时才计入账目）
func (s *AffiliateService) ApproveCommission(ctx context.Context, commissionID int64) error {
	commission, err := s.commissionRepo.GetByID(ctx, commissionID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	if commission.Status != models.CommissionStatusPending {
		return errors.ErrCommissionStateError
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, txErr := s.affiliateRepo.GetForUpdate(ctx, tx, commission.AffiliateID); txErr != nil {
			return txErr
		}

		now := time.Now()
		if txErr := tx.Model(&models.Commission{}).
			Where("id = ? AND status = ?", commissionID, models.CommissionStatusPending).
			Updates(map[string]interface{}{
				"status":      models.CommissionStatusApproved,
				"approved_at": now,
			}).Error; txErr != nil {
			return txErr
		}

		return tx.Model(&models.Affiliate{}).
			Where("id = ?", commission.AffiliateID).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings + ?", commission.Amount),
				"total_earnings":   gorm.Expr("total_earnings + ?", commission.Amount),
			}).Error
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("佣金审批通过", logger.CommissionID(commissionID))
	return nil
}

// RejectCommission 审批拒绝佣金，不动账目
func (s *AffiliateService) RejectCommission(ctx context.Context, commissionID int64, reason string) error {
	commission, err := s.commissionRepo.GetByID(ctx, commissionID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	if commission.Status != models.CommissionStatusPending {
		return errors.ErrCommissionStateError
	}

	err = s.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id = ? AND status = ?", commissionID, models.CommissionStatusPending).
		Updates(map[string]interface{}{
			"status":           models.CommissionStatusRejected,
			"rejection_reason": reason,
		}).Error
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("佣金审批拒绝", logger.CommissionID(commissionID))
	return nil
}

// ReverseCommission 冲销已批准未结算的佣金（退款等场景的回滚）
func (s *AffiliateService) ReverseCommission(ctx context.Context, commissionID int64) error {
	commission, err := s.commissionRepo.GetByID(ctx, commissionID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrCommissionNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	if commission.Status != models.CommissionStatusApproved {
		return errors.ErrCommissionStateError
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, txErr := s.affiliateRepo.GetForUpdate(ctx, tx, commission.AffiliateID); txErr != nil {
			return txErr
		}

		if txErr := tx.Model(&models.Commission{}).
			Where("id = ? AND status = ?", commissionID, models.CommissionStatusApproved).
			Update("status", models.CommissionStatusReversed).Error; txErr != nil {
			return txErr
		}

		return tx.Model(&models.Affiliate{}).
			Where("id = ?", commission.AffiliateID).
			Updates(map[string]interface{}{
				"pending_earnings": gorm.Expr("pending_earnings - ?", commission.Amount),
				"total_earnings":   gorm.Expr("total_earnings - ?", commission.Amount),
			}).Error
	})
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("佣金已冲销", logger.CommissionID(commissionID))
	return nil
}

// AdminStats 管理后台全局统计
func (s *AffiliateService) AdminStats(ctx context.Context) (*repository.GlobalStats, error) {
	stats, err := s.affiliateRepo.GetGlobalStats(ctx)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return stats, nil
}

// AdminListAffiliates 管理后台分页获取推广员
func (s *AffiliateService) AdminListAffiliates(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Affiliate, int64, error) {
	return s.affiliateRepo.List(ctx, offset, limit, filters)
}

// AdminGetAffiliate 管理后台获取推广员详情
func (s *AffiliateService) AdminGetAffiliate(ctx context.Context, id int64) (*models.Affiliate, error) {
	affiliate, err := s.affiliateRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliate, nil
}

// AdminUpdateRequest 管理后台推广员编辑请求
type AdminUpdateRequest struct {
	Status                *string  `json:"status,omitempty"`
	TrialSignupCommission *float64 `json:"trial_signup_commission,omitempty"`
	ConversionCommission  *float64 `json:"conversion_commission,omitempty"`
	RecurringCommission   *float64 `json:"recurring_commission,omitempty"`
	RecurringEnabled      *bool    `json:"recurring_enabled,omitempty"`
}

// AdminUpdateAffiliate 管理后台编辑推广员状态与佣金配置
func (s *AffiliateService) AdminUpdateAffiliate(ctx context.Context, id int64, req *AdminUpdateRequest) (*models.Affiliate, error) {
	affiliate, err := s.AdminGetAffiliate(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != nil {
		switch *req.Status {
		case models.AffiliateStatusActive, models.AffiliateStatusSuspended, models.AffiliateStatusInactive:
			affiliate.Status = *req.Status
		default:
			return nil, errors.ErrInvalidParams
		}
	}
	if req.TrialSignupCommission != nil {
		affiliate.TrialSignupCommission = *req.TrialSignupCommission
	}
	if req.ConversionCommission != nil {
		affiliate.ConversionCommission = *req.ConversionCommission
	}
	if req.RecurringCommission != nil {
		affiliate.RecurringCommission = *req.RecurringCommission
	}
	if req.RecurringEnabled != nil {
		affiliate.RecurringEnabled = *req.RecurringEnabled
	}

	if err := s.affiliateRepo.Update(ctx, affiliate); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliate, nil
}

// AdminSuspend 管理后台冻结推广员
func (s *AffiliateService) AdminSuspend(ctx context.Context, id int64) error {
	if _, err := s.AdminGetAffiliate(ctx, id); err != nil {
		return err
	}
	if err := s.affiliateRepo.UpdateStatus(ctx, id, models.AffiliateStatusSuspended); err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	logger.Info("推广员已冻结", logger.AffiliateID(id))
	return nil
}

// AdminListPayouts 管理后台分页获取结算记录
func (s *AffiliateService) AdminListPayouts(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	return s.payoutRepo.List(ctx, offset, limit, filters)
}

// AdminCompletePayout 管理后台确认打款完成
func (s *AffiliateService) AdminCompletePayout(ctx context.Context, payoutID int64) error {
	payout, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrPayoutNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if payout.Status != models.PayoutStatusPending && payout.Status != models.PayoutStatusProcessing {
		return errors.ErrPayoutStatusError
	}

	if err := s.payoutRepo.MarkCompleted(ctx, nil, payoutID); err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Info("结算批次已打款", logger.PayoutNo(payout.PayoutNo), logger.AffiliateID(payout.AffiliateID))
	return nil
}

// AdminFailPayout 管理后台标记打款失败
func (s *AffiliateService) AdminFailPayout(ctx context.Context, payoutID int64, reason string) error {
	payout, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrPayoutNotFound
		}
		return errors.ErrDatabaseError.WithError(err)
	}

	if payout.Status != models.PayoutStatusPending && payout.Status != models.PayoutStatusProcessing {
		return errors.ErrPayoutStatusError
	}

	if err := s.payoutRepo.MarkFailed(ctx, payoutID, reason); err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}

	logger.Warn("结算批次打款失败", logger.PayoutNo(payout.PayoutNo), logger.FailReason(reason))
	return nil
}
