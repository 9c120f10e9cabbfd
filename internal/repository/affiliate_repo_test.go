// Package repository 推广员仓储单元测试
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

func setupAffiliateTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Affiliate{}, &models.User{}, &models.Click{})
	require.NoError(t, err)

	return db
}

func TestAffiliateRepository_GetByCode(t *testing.T) {
	db := setupAffiliateTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	affiliate := &models.Affiliate{UserID: 1, Code: "ABCD1234", Status: models.AffiliateStatusActive}
	require.NoError(t, db.Create(affiliate).Error)

	got, err := repo.GetByCode(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, affiliate.ID, got.ID)

	_, err = repo.GetByCode(ctx, "NOPE0000")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAffiliateRepository_CodeExists(t *testing.T) {
	db := setupAffiliateTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Affiliate{UserID: 1, Code: "TAKEN123", Status: models.AffiliateStatusActive}).Error)

	exists, err := repo.CodeExists(ctx, "TAKEN123")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.CodeExists(ctx, "FREE0000")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAffiliateRepository_MarkFraud(t *testing.T) {
	db := setupAffiliateTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	affiliate := &models.Affiliate{UserID: 1, Code: "FRAUD001", Status: models.AffiliateStatusActive}
	require.NoError(t, db.Create(affiliate).Error)

	t.Run("只计数不打标", func(t *testing.T) {
		require.NoError(t, repo.MarkFraud(ctx, affiliate.ID, false))

		var got models.Affiliate
		require.NoError(t, db.First(&got, affiliate.ID).Error)
		assert.False(t, got.FraudFlag)
		assert.Equal(t, 1, got.SuspiciousActivityCount)
	})

	t.Run("打标并累计", func(t *testing.T) {
		require.NoError(t, repo.MarkFraud(ctx, affiliate.ID, true))

		var got models.Affiliate
		require.NoError(t, db.First(&got, affiliate.ID).Error)
		assert.True(t, got.FraudFlag)
		assert.Equal(t, 2, got.SuspiciousActivityCount)
	})
}

func TestAffiliateRepository_List_Filters(t *testing.T) {
	db := setupAffiliateTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	rows := []*models.Affiliate{
		{UserID: 1, Code: "A0000001", Status: models.AffiliateStatusActive},
		{UserID: 2, Code: "A0000002", Status: models.AffiliateStatusSuspended, FraudFlag: true},
		{UserID: 3, Code: "A0000003", Status: models.AffiliateStatusActive},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	t.Run("按状态过滤", func(t *testing.T) {
		list, total, err := repo.List(ctx, 0, 10, map[string]interface{}{"status": models.AffiliateStatusActive})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, list, 2)
	})

	t.Run("只看风控标记", func(t *testing.T) {
		list, total, err := repo.List(ctx, 0, 10, map[string]interface{}{"fraud_flag": true})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, list, 1)
		assert.Equal(t, "A0000002", list[0].Code)
	})
}

func TestAffiliateRepository_ListIDsWithRecentClicks(t *testing.T) {
	db := setupAffiliateTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	recent := &models.Click{AffiliateID: 1, IPAddress: "1.1.1.1"}
	require.NoError(t, db.Create(recent).Error)
	require.NoError(t, db.Create(&models.Click{AffiliateID: 1, IPAddress: "1.1.1.2"}).Error)

	old := &models.Click{AffiliateID: 2, IPAddress: "2.2.2.2"}
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Model(old).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	ids, err := repo.ListIDsWithRecentClicks(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestAffiliateRepository_GetGlobalStats(t *testing.T) {
	db := setupAffiliateTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()

	rows := []*models.Affiliate{
		{UserID: 1, Code: "S0000001", Status: models.AffiliateStatusActive, TotalReferrals: 10, TotalConversions: 3, PaidEarnings: 50.00, PendingEarnings: 10.00, TotalEarnings: 60.00},
		{UserID: 2, Code: "S0000002", Status: models.AffiliateStatusSuspended, TotalReferrals: 5, TotalConversions: 1, PaidEarnings: 5.00, PendingEarnings: 0, TotalEarnings: 5.00},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	stats, err := repo.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalAffiliates)
	assert.Equal(t, int64(1), stats.ActiveAffiliates)
	assert.Equal(t, int64(1), stats.SuspendedAffiliates)
	assert.Equal(t, int64(15), stats.TotalReferrals)
	assert.Equal(t, int64(4), stats.TotalConversions)
	assert.Equal(t, 55.00, stats.TotalPaid)
	assert.Equal(t, 10.00, stats.TotalPending)
}
