// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// CommissionRepository 佣金仓储
type CommissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository 创建佣金仓储
func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// CreateIfAbsent 原子化的「不存在才插入」
// 依赖 (referral_id, commission_type) 唯一索引，通过 ON CONFLICT DO NOTHING 落库，
// 冲突时回读已存在的记录。并发重复投递下同一事件至多产生一条佣金。
// 必须在调用方事务 tx 内执行，保证佣金插入与聚合更新同生共死。
func (r *CommissionRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, commission *models.Commission) (created bool, err error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referral_id"}, {Name: "commission_type"}},
			DoNothing: true,
		}).
		Create(commission)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// 冲突：回读已存在的佣金并返回
	var existing models.Commission
	if err := tx.WithContext(ctx).
		Where("referral_id = ? AND commission_type = ?", commission.ReferralID, commission.CommissionType).
		First(&existing).Error; err != nil {
		return false, err
	}
	*commission = existing
	return false, nil
}

// GetByID 根据 ID 获取佣金记录
func (r *CommissionRepository) GetByID(ctx context.Context, id int64) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).First(&commission, id).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// GetByReferralAndType 根据幂等键获取佣金记录
func (r *CommissionRepository) GetByReferralAndType(ctx context.Context, referralID int64, commissionType string) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.WithContext(ctx).
		Where("referral_id = ? AND commission_type = ?", referralID, commissionType).
		First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// ListByAffiliateID 获取推广员的佣金记录
func (r *CommissionRepository) ListByAffiliateID(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.Commission, int64, error) {
	var commissions []*models.Commission
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("affiliate_id = ?", affiliateID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&commissions).Error; err != nil {
		return nil, 0, err
	}

	return commissions, total, nil
}

// List 获取佣金列表
func (r *CommissionRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Commission, int64, error) {
	var commissions []*models.Commission
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Commission{})

	// 应用过滤条件
	if affiliateID, ok := filters["affiliate_id"].(int64); ok && affiliateID > 0 {
		query = query.Where("affiliate_id = ?", affiliateID)
	}
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if commissionType, ok := filters["commission_type"].(string); ok && commissionType != "" {
		query = query.Where("commission_type = ?", commissionType)
	}
	if startTime, ok := filters["start_time"].(time.Time); ok {
		query = query.Where("created_at >= ?", startTime)
	}
	if endTime, ok := filters["end_time"].(time.Time); ok {
		query = query.Where("created_at <= ?", endTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("Referral").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&commissions).Error; err != nil {
		return nil, 0, err
	}

	return commissions, total, nil
}

// ListApprovedUnpaid 获取推广员已批准且未结算的佣金（结算批次用）
func (r *CommissionRepository) ListApprovedUnpaid(ctx context.Context, affiliateID int64) ([]*models.Commission, error) {
	var commissions []*models.Commission
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ? AND payout_id IS NULL",
			affiliateID, models.CommissionStatusApproved).
		Order("id").
		Find(&commissions).Error
	return commissions, err
}

// CommissionStats 佣金统计
type CommissionStats struct {
	TotalAmount    float64 `gorm:"column:total_amount" json:"total_amount"`
	PendingAmount  float64 `gorm:"column:pending_amount" json:"pending_amount"`
	ApprovedAmount float64 `gorm:"column:approved_amount" json:"approved_amount"`
	PaidAmount     float64 `gorm:"column:paid_amount" json:"paid_amount"`
	TotalCount     int64   `gorm:"column:total_count" json:"total_count"`
	RecurringCount int64   `gorm:"column:recurring_count" json:"recurring_count"`
}

// GetStatsByAffiliateID 获取推广员佣金统计
func (r *CommissionRepository) GetStatsByAffiliateID(ctx context.Context, affiliateID int64) (*CommissionStats, error) {
	var stats CommissionStats
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Select(`
			COALESCE(SUM(amount), 0) as total_amount,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN amount ELSE 0 END), 0) as pending_amount,
			COALESCE(SUM(CASE WHEN status = 'approved' THEN amount ELSE 0 END), 0) as approved_amount,
			COALESCE(SUM(CASE WHEN status = 'paid' THEN amount ELSE 0 END), 0) as paid_amount,
			COUNT(*) as total_count,
			COALESCE(SUM(CASE WHEN is_recurring THEN 1 ELSE 0 END), 0) as recurring_count
		`).
		Where("affiliate_id = ?", affiliateID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// CountByReferralID 统计推荐记录的佣金条数
func (r *CommissionRepository) CountByReferralID(ctx context.Context, referralID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("referral_id = ?", referralID).
		Count(&count).Error
	return count, err
}
