// Package repository 点击日志仓储单元测试
package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

func setupClickTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Click{}, &models.Affiliate{})
	require.NoError(t, err)

	return db
}

func TestClickRepository_CountByIPSince(t *testing.T) {
	db := setupClickTestDB(t)
	repo := NewClickRepository(db)
	ctx := context.Background()

	clicks := []*models.Click{
		{AffiliateID: 1, IPAddress: "10.0.0.1"},
		{AffiliateID: 1, IPAddress: "10.0.0.1"},
		{AffiliateID: 1, IPAddress: "10.0.0.1"},
		{AffiliateID: 1, IPAddress: "10.0.0.2"},
		{AffiliateID: 2, IPAddress: "10.0.0.1"},
	}
	for _, click := range clicks {
		require.NoError(t, repo.Create(ctx, click))
	}

	// 窗口外的点击不计入
	old := &models.Click{AffiliateID: 1, IPAddress: "10.0.0.1"}
	require.NoError(t, repo.Create(ctx, old))
	err := db.Model(&models.Click{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error
	require.NoError(t, err)

	counts, err := repo.CountByIPSince(ctx, 1, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["10.0.0.1"])
	assert.Equal(t, int64(1), counts["10.0.0.2"])
	assert.Len(t, counts, 2)
}

func TestClickRepository_MarkSuspiciousByIP(t *testing.T) {
	db := setupClickTestDB(t)
	repo := NewClickRepository(db)
	ctx := context.Background()

	clicks := []*models.Click{
		{AffiliateID: 1, IPAddress: "10.0.0.1"},
		{AffiliateID: 1, IPAddress: "10.0.0.1"},
		{AffiliateID: 1, IPAddress: "10.0.0.2"},
		{AffiliateID: 2, IPAddress: "10.0.0.1"},
	}
	for _, click := range clicks {
		require.NoError(t, repo.Create(ctx, click))
	}

	err := repo.MarkSuspiciousByIP(ctx, 1, "10.0.0.1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	var suspicious int64
	err = db.Model(&models.Click{}).Where("is_suspicious = ?", true).Count(&suspicious).Error
	require.NoError(t, err)
	assert.Equal(t, int64(2), suspicious)

	// 其他推广员同 IP 的点击不受影响
	var other models.Click
	err = db.Where("affiliate_id = ?", 2).First(&other).Error
	require.NoError(t, err)
	assert.False(t, other.IsSuspicious)
}

func TestClickRepository_ListByAffiliateSince(t *testing.T) {
	db := setupClickTestDB(t)
	repo := NewClickRepository(db)
	ctx := context.Background()

	recent := &models.Click{AffiliateID: 1, IPAddress: "10.0.0.1"}
	require.NoError(t, repo.Create(ctx, recent))

	old := &models.Click{AffiliateID: 1, IPAddress: "10.0.0.1"}
	require.NoError(t, repo.Create(ctx, old))
	err := db.Model(&models.Click{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-72*time.Hour)).Error
	require.NoError(t, err)

	list, err := repo.ListByAffiliateSince(ctx, 1, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, recent.ID, list[0].ID)
}
