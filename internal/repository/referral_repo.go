// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// ReferralRepository 推荐关系仓储
type ReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建推荐关系仓储
func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Create 创建推荐记录
func (r *ReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

// GetByID 根据 ID 获取推荐记录
func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).First(&referral, id).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetOpenByAffiliateAndIP 查找同一推广员、同一来源 IP 下仍未注册的推荐记录
// 用于快速重复点击去重（策略层去重，不依赖存储约束）
func (r *ReferralRepository) GetOpenByAffiliateAndIP(ctx context.Context, affiliateID int64, ip string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND ip_address = ? AND status = ?",
			affiliateID, ip, models.ReferralStatusPending).
		Order("id DESC").
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetByReferredUserID 根据被推荐用户 ID 获取推荐记录
func (r *ReferralRepository) GetByReferredUserID(ctx context.Context, userID int64) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_user_id = ?", userID).
		Order("id").
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetByReferredUserIDAndStatus 根据被推荐用户 ID 和状态获取推荐记录
func (r *ReferralRepository) GetByReferredUserIDAndStatus(ctx context.Context, userID int64, statuses ...string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_user_id = ? AND status IN ?", userID, statuses).
		Order("id").
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetOpenByIP 根据来源 IP 查找最新的未注册推荐记录（注册回填的会话兜底）
func (r *ReferralRepository) GetOpenByIP(ctx context.Context, ip string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("ip_address = ? AND status = ?", ip, models.ReferralStatusPending).
		Order("id DESC").
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetOpenByEmail 根据邮箱查找注册前的推荐记录（注册时回填用户 ID 用）
func (r *ReferralRepository) GetOpenByEmail(ctx context.Context, email string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_email = ? AND status IN ?", email,
			[]string{models.ReferralStatusPending, models.ReferralStatusSignedUp}).
		Order("id DESC").
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// Update 更新推荐记录
func (r *ReferralRepository) Update(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Save(referral).Error
}

// ListByAffiliateID 获取推广员的推荐记录
func (r *ReferralRepository) ListByAffiliateID(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.Referral, int64, error) {
	var referrals []*models.Referral
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("affiliate_id = ?", affiliateID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&referrals).Error; err != nil {
		return nil, 0, err
	}

	return referrals, total, nil
}

// ListAllByAffiliateID 获取推广员的全部推荐记录（防作弊检测用）
func (r *ReferralRepository) ListAllByAffiliateID(ctx context.Context, affiliateID int64) ([]*models.Referral, error) {
	var referrals []*models.Referral
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		Find(&referrals).Error
	return referrals, err
}

// ListActiveConverted 获取仍在订阅中的已转化推荐记录（月度批处理扫描用）
// churned 的推荐不会出现在结果里
func (r *ReferralRepository) ListActiveConverted(ctx context.Context) ([]*models.Referral, error) {
	var referrals []*models.Referral
	err := r.db.WithContext(ctx).
		Where("status = ? AND subscription_status = ?",
			models.ReferralStatusConverted, models.SubscriptionStatusActive).
		Order("id").
		Find(&referrals).Error
	return referrals, err
}

// ExpireStalePending 把指定时间之前创建且仍为 pending 的推荐记录置为 expired
// converted 之后的状态不受影响，churned 只能由取消订阅事件写入
func (r *ReferralRepository) ExpireStalePending(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("status = ?", models.ReferralStatusPending).
		Where("created_at < ?", before).
		Update("status", models.ReferralStatusExpired)
	return result.RowsAffected, result.Error
}

// CountByAffiliateAndStatus 统计推广员指定状态的推荐数
func (r *ReferralRepository) CountByAffiliateAndStatus(ctx context.Context, affiliateID int64, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("affiliate_id = ? AND status = ?", affiliateID, status).
		Count(&count).Error
	return count, err
}
