// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// ClickRepository 点击日志仓储
type ClickRepository struct {
	db *gorm.DB
}

// NewClickRepository 创建点击日志仓储
func NewClickRepository(db *gorm.DB) *ClickRepository {
	return &ClickRepository{db: db}
}

// Create 追加点击记录
func (r *ClickRepository) Create(ctx context.Context, click *models.Click) error {
	return r.db.WithContext(ctx).Create(click).Error
}

// ListByAffiliateSince 获取推广员指定时间以来的点击记录
func (r *ClickRepository) ListByAffiliateSince(ctx context.Context, affiliateID int64, since time.Time) ([]*models.Click, error) {
	var clicks []*models.Click
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND created_at >= ?", affiliateID, since).
		Find(&clicks).Error
	return clicks, err
}

// CountByIPSince 按来源 IP 统计指定时间以来的点击数
func (r *ClickRepository) CountByIPSince(ctx context.Context, affiliateID int64, since time.Time) (map[string]int64, error) {
	type row struct {
		IPAddress string `gorm:"column:ip_address"`
		Count     int64  `gorm:"column:count"`
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.Click{}).
		Select("ip_address, COUNT(*) as count").
		Where("affiliate_id = ? AND created_at >= ?", affiliateID, since).
		Group("ip_address").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.IPAddress] = r.Count
	}
	return counts, nil
}

// MarkSuspiciousByIP 标记指定 IP 在时间窗口内的点击为可疑
func (r *ClickRepository) MarkSuspiciousByIP(ctx context.Context, affiliateID int64, ip string, since time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Click{}).
		Where("affiliate_id = ? AND ip_address = ? AND created_at >= ?", affiliateID, ip, since).
		Update("is_suspicious", true).Error
}
