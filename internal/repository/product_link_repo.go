// Package repository 提供数据访问层
package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// ProductLinkRepository 商品推广链接仓储
type ProductLinkRepository struct {
	db *gorm.DB
}

// NewProductLinkRepository 创建商品推广链接仓储
func NewProductLinkRepository(db *gorm.DB) *ProductLinkRepository {
	return &ProductLinkRepository{db: db}
}

// Create 创建推广链接
func (r *ProductLinkRepository) Create(ctx context.Context, link *models.ProductLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

// GetByID 根据 ID 获取推广链接
func (r *ProductLinkRepository) GetByID(ctx context.Context, id int64) (*models.ProductLink, error) {
	var link models.ProductLink
	err := r.db.WithContext(ctx).First(&link, id).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetByShortCode 根据短码获取推广链接（追踪入口）
func (r *ProductLinkRepository) GetByShortCode(ctx context.Context, shortCode string) (*models.ProductLink, error) {
	var link models.ProductLink
	err := r.db.WithContext(ctx).
		Where("short_code = ? AND is_active = ?", shortCode, true).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetByAffiliateAndProduct 获取推广员指定商品的链接
func (r *ProductLinkRepository) GetByAffiliateAndProduct(ctx context.Context, affiliateID int64, productID string) (*models.ProductLink, error) {
	var link models.ProductLink
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND product_id = ?", affiliateID, productID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ListByAffiliateID 获取推广员的全部推广链接
func (r *ProductLinkRepository) ListByAffiliateID(ctx context.Context, affiliateID int64) ([]*models.ProductLink, error) {
	var links []*models.ProductLink
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		Order("id").
		Find(&links).Error
	return links, err
}

// ShortCodeExists 短码是否已被占用
func (r *ProductLinkRepository) ShortCodeExists(ctx context.Context, shortCode string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProductLink{}).
		Where("short_code = ?", shortCode).Count(&count).Error
	return count > 0, err
}

// IncrementClickCount 累加点击计数
func (r *ProductLinkRepository) IncrementClickCount(ctx context.Context, linkID int64) error {
	return r.db.WithContext(ctx).Model(&models.ProductLink{}).
		Where("id = ?", linkID).
		UpdateColumn("click_count", gorm.Expr("click_count + 1")).Error
}
