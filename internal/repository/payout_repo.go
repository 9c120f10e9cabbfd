// Package repository 提供数据访问层
package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// PayoutRepository 结算批次仓储
type PayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建结算批次仓储
func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Create 创建结算批次
func (r *PayoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

// GetByID 根据 ID 获取结算批次
func (r *PayoutRepository) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, id).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// ListByAffiliateID 获取推广员的结算记录
func (r *PayoutRepository) ListByAffiliateID(ctx context.Context, affiliateID int64, offset, limit int) ([]*models.Payout, int64, error) {
	var payouts []*models.Payout
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("affiliate_id = ?", affiliateID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, 0, err
	}

	return payouts, total, nil
}

// UpdateStatus 更新结算批次状态
func (r *PayoutRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ?", id).Update("status", status).Error
}

// List 分页获取全部结算记录（管理后台）
func (r *PayoutRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	var payouts []*models.Payout
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payout{})
	for key, value := range filters {
		query = query.Where(key+" = ?", value)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, 0, err
	}

	return payouts, total, nil
}

// MarkCompleted 标记结算批次已完成打款
func (r *PayoutRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id int64) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.PayoutStatusCompleted,
			"processed_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}).Error
}

// MarkFailed 标记结算批次打款失败
func (r *PayoutRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.PayoutStatusFailed,
			"failure_reason": reason,
		}).Error
}
