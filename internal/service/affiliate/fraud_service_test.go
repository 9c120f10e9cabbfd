package affiliate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/errors"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
)

// addClicks 追加 n 条点击日志
func addClicks(db *gorm.DB, affiliateID int64, ip string, n int, at time.Time) {
	for i := 0; i < n; i++ {
		click := &models.Click{
			AffiliateID: affiliateID,
			IPAddress:   ip,
		}
		db.Create(click)
		db.Model(click).Update("created_at", at)
	}
}

// ==================== 刷点击检测测试 ====================

func TestFraudService_ClickFlood(t *testing.T) {
	t.Run("单IP超过10次点击_打标记", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		addClicks(db, affiliate.ID, "203.0.113.7", 11, time.Now())

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.True(t, flagged)

		var updated models.Affiliate
		require.NoError(t, db.First(&updated, affiliate.ID).Error)
		assert.True(t, updated.FraudFlag)
		assert.Equal(t, 1, updated.SuspiciousActivityCount)

		// 涉事点击被标记
		var suspicious int64
		db.Model(&models.Click{}).Where("is_suspicious = ?", true).Count(&suspicious)
		assert.Equal(t, int64(11), suspicious)
	})

	t.Run("多个IP同时超限_可疑计数只加一次", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		addClicks(db, affiliate.ID, "203.0.113.7", 11, time.Now())
		addClicks(db, affiliate.ID, "203.0.113.8", 11, time.Now())
		addClicks(db, affiliate.ID, "203.0.113.9", 11, time.Now())

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.True(t, flagged)

		var updated models.Affiliate
		require.NoError(t, db.First(&updated, affiliate.ID).Error)
		assert.True(t, updated.FraudFlag)
		assert.Equal(t, 1, updated.SuspiciousActivityCount)

		// 三个 IP 的点击都被标记
		var suspicious int64
		db.Model(&models.Click{}).Where("is_suspicious = ?", true).Count(&suspicious)
		assert.Equal(t, int64(33), suspicious)
	})

	t.Run("11个不同IP各一次_不打标记", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		for i := 0; i < 11; i++ {
			addClicks(db, affiliate.ID, fmt.Sprintf("203.0.113.%d", i+1), 1, time.Now())
		}

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.False(t, flagged)

		var updated models.Affiliate
		require.NoError(t, db.First(&updated, affiliate.ID).Error)
		assert.False(t, updated.FraudFlag)
	})

	t.Run("窗口外的历史点击不参与检测", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		addClicks(db, affiliate.ID, "203.0.113.7", 11, time.Now().Add(-48*time.Hour))

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.False(t, flagged)
	})
}

// ==================== 转化率检测测试 ====================

func TestFraudService_ConversionRate(t *testing.T) {
	t.Run("推荐量大且转化率异常高_打标记", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Updates(map[string]interface{}{
			"total_referrals":   25,
			"total_conversions": 23,
		})

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.True(t, flagged)

		var updated models.Affiliate
		require.NoError(t, db.First(&updated, affiliate.ID).Error)
		assert.True(t, updated.FraudFlag)
	})

	t.Run("推荐量不足_高转化率不触发", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Updates(map[string]interface{}{
			"total_referrals":   10,
			"total_conversions": 10,
		})

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.False(t, flagged)
	})

	t.Run("正常转化率不触发", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Updates(map[string]interface{}{
			"total_referrals":   100,
			"total_conversions": 20,
		})

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		assert.False(t, flagged)
	})
}

// ==================== 同域名邮箱检测测试 ====================

func TestFraudService_SameDomainReferrals(t *testing.T) {
	t.Run("超过3个同域名邮箱_累加计数不打标记", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@selfref.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		for i := 0; i < 4; i++ {
			createTestReferral(db, affiliate.ID, nil,
				fmt.Sprintf("friend%d@selfref.com", i), models.ReferralStatusSignedUp)
		}

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		// 弱信号不算命中
		assert.False(t, flagged)

		var updated models.Affiliate
		require.NoError(t, db.First(&updated, affiliate.ID).Error)
		assert.False(t, updated.FraudFlag)
		assert.Equal(t, 1, updated.SuspiciousActivityCount)
	})

	t.Run("不同域名邮箱不触发", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@selfref.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		for i := 0; i < 5; i++ {
			createTestReferral(db, affiliate.ID, nil,
				fmt.Sprintf("student%d@mail%d.com", i, i), models.ReferralStatusSignedUp)
		}

		_, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)

		var updated models.Affiliate
		require.NoError(t, db.First(&updated, affiliate.ID).Error)
		assert.Equal(t, 0, updated.SuspiciousActivityCount)
	})
}

// ==================== 其他行为测试 ====================

func TestFraudService_CheckAffiliate(t *testing.T) {
	t.Run("推广员不存在_返回NotFound", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)

		_, err := svcs.fraud.CheckAffiliate(context.Background(), 9999)
		assert.ErrorIs(t, err, errors.ErrAffiliateNotFound)
	})

	t.Run("打标记后佣金照常生成", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		owner := createTestUser(db, "owner@example.com")
		affiliate := createTestAffiliate(db, owner.ID, models.AffiliateStatusActive)
		addClicks(db, affiliate.ID, "203.0.113.7", 11, time.Now())

		flagged, err := svcs.fraud.CheckAffiliate(ctx, affiliate.ID)
		require.NoError(t, err)
		require.True(t, flagged)

		// 检测只做标注，不阻断结算
		referred := createTestUser(db, "student@example.com")
		createTestReferral(db, affiliate.ID, &referred.ID, referred.Email, models.ReferralStatusTrial)
		commission, err := svcs.commission.CreateConversionCommission(ctx, referred.ID, "sub_001")
		require.NoError(t, err)
		assert.NotNil(t, commission)
	})
}

// ==================== 批量扫描测试 ====================

func TestFraudService_SweepRecentlyActive(t *testing.T) {
	t.Run("只扫描近期有点击的推广员", func(t *testing.T) {
		db := setupTestDB(t)
		svcs := newTestServices(db)
		ctx := context.Background()

		activeOwner := createTestUser(db, "active@example.com")
		activeAff := createTestAffiliate(db, activeOwner.ID, models.AffiliateStatusActive)
		addClicks(db, activeAff.ID, "203.0.113.7", 11, time.Now())

		idleOwner := createTestUser(db, "idle@example.com")
		idleAff := createTestAffiliate(db, idleOwner.ID, models.AffiliateStatusActive)
		addClicks(db, idleAff.ID, "203.0.113.8", 11, time.Now().Add(-48*time.Hour))

		checked, err := svcs.fraud.SweepRecentlyActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, checked)

		var flagged models.Affiliate
		require.NoError(t, db.First(&flagged, activeAff.ID).Error)
		assert.True(t, flagged.FraudFlag)

		var idle models.Affiliate
		require.NoError(t, db.First(&idle, idleAff.ID).Error)
		assert.False(t, idle.FraudFlag)
	})
}
