// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// AffiliateRepository 推广员仓储
type AffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广员仓储
func NewAffiliateRepository(db *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

// Create 创建推广员
func (r *AffiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Create(affiliate).Error
}

// GetByID 根据 ID 获取推广员
func (r *AffiliateRepository) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).First(&affiliate, id).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByUserID 根据用户 ID 获取推广员
func (r *AffiliateRepository) GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&affiliate).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByCode 根据推广码获取推广员
func (r *AffiliateRepository) GetByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&affiliate).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetForUpdate 在事务内加行锁获取推广员
// 佣金写入路径（转化、续费、批处理）并发更新同一聚合计数，必须串行化
func (r *AffiliateRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&affiliate, id).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// CodeExists 推广码是否已被占用
func (r *AffiliateRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

// Update 更新推广员
func (r *AffiliateRepository) Update(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Save(affiliate).Error
}

// UpdateStatus 更新推广员状态
func (r *AffiliateRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).Update("status", status).Error
}

// MarkFraud 设置作弊标记并累加可疑行为计数
func (r *AffiliateRepository) MarkFraud(ctx context.Context, id int64, setFlag bool) error {
	updates := map[string]interface{}{
		"suspicious_activity_count": gorm.Expr("suspicious_activity_count + 1"),
	}
	if setFlag {
		updates["fraud_flag"] = true
	}
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).Updates(updates).Error
}

// List 获取推广员列表
func (r *AffiliateRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Affiliate, int64, error) {
	var affiliates []*models.Affiliate
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Affiliate{})

	// 应用过滤条件
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if fraudOnly, ok := filters["fraud_flag"].(bool); ok && fraudOnly {
		query = query.Where("fraud_flag = ?", true)
	}
	if createdAfter, ok := filters["created_after"].(time.Time); ok {
		query = query.Where("created_at >= ?", createdAfter)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("User").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&affiliates).Error; err != nil {
		return nil, 0, err
	}

	return affiliates, total, nil
}

// ListIDsWithRecentClicks 获取指定时间后有点击记录的推广员 ID（防作弊巡检用）
func (r *AffiliateRepository) ListIDsWithRecentClicks(ctx context.Context, since time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Click{}).
		Distinct("affiliate_id").
		Where("created_at >= ?", since).
		Pluck("affiliate_id", &ids).Error
	return ids, err
}

// GlobalStats 全局推广统计
type GlobalStats struct {
	TotalAffiliates     int64   `gorm:"column:total_affiliates" json:"total_affiliates"`
	ActiveAffiliates    int64   `gorm:"column:active_affiliates" json:"active_affiliates"`
	SuspendedAffiliates int64   `gorm:"column:suspended_affiliates" json:"suspended_affiliates"`
	TotalReferrals      int64   `gorm:"column:total_referrals" json:"total_referrals"`
	TotalConversions    int64   `gorm:"column:total_conversions" json:"total_conversions"`
	TotalPaid           float64 `gorm:"column:total_paid" json:"total_paid"`
	TotalPending        float64 `gorm:"column:total_pending" json:"total_pending"`
}

// GetGlobalStats 获取全局推广统计（管理后台用）
func (r *AffiliateRepository) GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	var stats GlobalStats
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Select(`
			COUNT(*) as total_affiliates,
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) as active_affiliates,
			COALESCE(SUM(CASE WHEN status = 'suspended' THEN 1 ELSE 0 END), 0) as suspended_affiliates,
			COALESCE(SUM(total_referrals), 0) as total_referrals,
			COALESCE(SUM(total_conversions), 0) as total_conversions,
			COALESCE(SUM(paid_earnings), 0) as total_paid,
			COALESCE(SUM(pending_earnings), 0) as total_pending
		`).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
