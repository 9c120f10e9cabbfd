package affiliate

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
)

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.Affiliate{},
		&models.ProductLink{},
		&models.Referral{},
		&models.Commission{},
		&models.Click{},
		&models.Payout{},
	)
	require.NoError(t, err)

	return db
}

// newTestConfig 测试用业务配置
func newTestConfig() *config.AffiliateConfig {
	return &config.AffiliateConfig{
		TrialSignupCommission:  2.00,
		ConversionCommission:   5.00,
		RecurringCommission:    5.00,
		RecurringEnabled:       true,
		MinimumPayoutThreshold: 50.00,
		LandingURL:             "https://example.com",
		FraudClickLimit:        10,
		FraudConversionRate:    80.0,
		FraudMinReferrals:      20,
		FraudSelfReferralLimit: 3,
	}
}

// testServices 测试用服务集合
type testServices struct {
	affiliate  *AffiliateService
	referral   *ReferralService
	commission *CommissionService
	fraud      *FraudService
}

// newTestServices 用同一个数据库构建全部服务
func newTestServices(db *gorm.DB) *testServices {
	cfg := newTestConfig()
	affiliateRepo := repository.NewAffiliateRepository(db)
	linkRepo := repository.NewProductLinkRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	commissionRepo := repository.NewCommissionRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	clickRepo := repository.NewClickRepository(db)
	userRepo := repository.NewUserRepository(db)

	commissionSvc := NewCommissionService(db, commissionRepo, referralRepo, affiliateRepo, linkRepo, cfg)
	return &testServices{
		affiliate:  NewAffiliateService(db, affiliateRepo, linkRepo, referralRepo, commissionRepo, payoutRepo, userRepo, cfg),
		referral:   NewReferralService(db, referralRepo, affiliateRepo, linkRepo, clickRepo, commissionSvc),
		commission: commissionSvc,
		fraud:      NewFraudService(affiliateRepo, clickRepo, referralRepo, userRepo, cfg),
	}
}

// createTestUser 创建测试用户
func createTestUser(db *gorm.DB, email string) *models.User {
	user := &models.User{
		Email:  email,
		Name:   "测试用户",
		Role:   models.UserRoleUser,
		Status: models.UserStatusActive,
	}
	db.Create(user)
	return user
}

// createTestAffiliate 创建测试推广员
func createTestAffiliate(db *gorm.DB, userID int64, status string) *models.Affiliate {
	affiliate := &models.Affiliate{
		UserID:                 userID,
		Code:                   fmt.Sprintf("AFF%d", time.Now().UnixNano()%10000000),
		Status:                 status,
		TrialSignupCommission:  2.00,
		ConversionCommission:   5.00,
		RecurringCommission:    5.00,
		RecurringEnabled:       true,
		MinimumPayoutThreshold: 50.00,
		TermsAccepted:          true,
	}
	db.Create(affiliate)
	return affiliate
}

// createTestLink 创建测试推广链接
func createTestLink(db *gorm.DB, affiliateID int64) *models.ProductLink {
	link := &models.ProductLink{
		AffiliateID: affiliateID,
		ProductType: "course",
		ProductID:   "course-basic",
		ProductName: "基础课程",
		ShortCode:   fmt.Sprintf("lk%d", time.Now().UnixNano()%100000000),
		IsActive:    true,
	}
	db.Create(link)
	return link
}

// createTestReferral 创建指定状态的测试推荐记录
func createTestReferral(db *gorm.DB, affiliateID int64, userID *int64, email, status string) *models.Referral {
	now := time.Now()
	referral := &models.Referral{
		AffiliateID:    affiliateID,
		ReferredUserID: userID,
		ReferredEmail:  email,
		Status:         status,
		IPAddress:      "10.0.0.1",
		ClickCount:     1,
	}
	switch status {
	case models.ReferralStatusSignedUp:
		referral.SignupAt = &now
	case models.ReferralStatusTrial:
		referral.SignupAt = &now
		referral.TrialStartedAt = &now
	case models.ReferralStatusConverted:
		referral.SignupAt = &now
		referral.TrialStartedAt = &now
		referral.ConversionAt = &now
		referral.SubscriptionStatus = models.SubscriptionStatusActive
		referral.SubscriptionID = "sub_test"
	}
	db.Create(referral)
	return referral
}

// convertedDaysAgo 把推荐记录的转化时间回拨到 N 天前
func convertedDaysAgo(db *gorm.DB, referralID int64, days int) {
	past := time.Now().AddDate(0, 0, -days)
	db.Model(&models.Referral{}).Where("id = ?", referralID).Update("conversion_at", past)
}
