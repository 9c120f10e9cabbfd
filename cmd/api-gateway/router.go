// Package main 是应用程序入口
package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/common/jwt"
	"github.com/Vale50/teacher-assistant-backend/internal/common/metrics"
	commonMiddleware "github.com/Vale50/teacher-assistant-backend/internal/common/middleware"
	"github.com/Vale50/teacher-assistant-backend/internal/common/qrcode"
	"github.com/Vale50/teacher-assistant-backend/internal/common/response"
	affiliateHandler "github.com/Vale50/teacher-assistant-backend/internal/handler/affiliate"
	"github.com/Vale50/teacher-assistant-backend/internal/middleware"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
	affiliateService "github.com/Vale50/teacher-assistant-backend/internal/service/affiliate"
)

// services 路由层装配好的服务集合（调度任务复用）
type services struct {
	affiliate  *affiliateService.AffiliateService
	referral   *affiliateService.ReferralService
	commission *affiliateService.CommissionService
	fraud      *affiliateService.FraudService
	webhook    *affiliateService.WebhookService
}

// setupRouter 设置路由
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
) *services {
	// 创建 JWT 管理器
	jwtManager := jwt.NewManager(&jwt.Config{
		Secret:           cfg.JWT.Secret,
		AccessExpireTime: cfg.JWT.AccessTokenDuration(),
		Issuer:           cfg.JWT.Issuer,
	})

	// 初始化仓储
	userRepo := repository.NewUserRepository(db)
	affiliateRepo := repository.NewAffiliateRepository(db)
	linkRepo := repository.NewProductLinkRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	commissionRepo := repository.NewCommissionRepository(db)
	clickRepo := repository.NewClickRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	operationLogRepo := repository.NewOperationLogRepository(db)

	// 初始化服务
	affCfg := &cfg.Business.Affiliate
	commissionSvc := affiliateService.NewCommissionService(db, commissionRepo, referralRepo, affiliateRepo, linkRepo, affCfg)
	affiliateSvc := affiliateService.NewAffiliateService(db, affiliateRepo, linkRepo, referralRepo, commissionRepo, payoutRepo, userRepo, affCfg)
	referralSvc := affiliateService.NewReferralService(db, referralRepo, affiliateRepo, linkRepo, clickRepo, commissionSvc)
	fraudSvc := affiliateService.NewFraudService(affiliateRepo, clickRepo, referralRepo, userRepo, affCfg)
	webhookSvc := affiliateService.NewWebhookService(commissionSvc, referralRepo, affiliateService.NewCachedUserResolver(userRepo))

	// 初始化处理器
	qrGenerator := qrcode.NewGenerator()
	affiliateH := affiliateHandler.NewHandler(affiliateSvc, referralSvc, qrGenerator, cfg)
	adminH := affiliateHandler.NewAdminHandler(affiliateSvc, fraudSvc, middleware.NewStaticPermissionChecker())
	publicH := affiliateHandler.NewPublicHandler(referralSvc, webhookSvc, cfg)

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RealIP())
	r.Use(middleware.CORS(&middleware.CORSConfig{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))
	r.Use(middleware.AccessLog(logger))
	if cfg.Metrics.Enabled {
		r.Use(metrics.GetMetrics().Middleware())
	}

	// 健康检查（不需要认证）
	r.GET("/health", healthHandler)
	r.GET("/ping", pingHandler)
	r.GET("/ready", readyHandler(db, redisClient))

	// Prometheus 指标
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, metrics.Handler())
	}

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 追踪跳转（公开，按 IP 限流防刷点击）
	track := r.Group("")
	if redisClient != nil {
		track.Use(middleware.TrackRateLimit(redisClient, 60, time.Minute))
	}
	publicH.RegisterTrackRoutes(track)

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 支付平台回调（验签在网关层，不需要登录态）
		publicH.RegisterWebhookRoutes(v1)

		// 用户端接口（需要用户认证）
		user := v1.Group("")
		user.Use(middleware.UserAuth(jwtManager))
		affiliateH.RegisterRoutes(user)
	}

	// 管理后台 API
	admin := r.Group("/api/admin")
	adminAuth := admin.Group("")
	adminAuth.Use(middleware.AdminAuth(jwtManager))
	adminAuth.Use(commonMiddleware.NewOperationLogger(operationLogRepo).Log())
	adminH.RegisterRoutes(adminAuth)

	// 404 处理
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})

	return &services{
		affiliate:  affiliateSvc,
		referral:   referralSvc,
		commission: commissionSvc,
		fraud:      fraudSvc,
		webhook:    webhookSvc,
	}
}
