// Package scheduler 提供定时任务
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/common/logger"
	"github.com/Vale50/teacher-assistant-backend/internal/repository"
	affiliateService "github.com/Vale50/teacher-assistant-backend/internal/service/affiliate"
)

// TaskHandler 任务处理器
type TaskHandler struct {
	db                *gorm.DB
	referralRepo      *repository.ReferralRepository
	commissionService *affiliateService.CommissionService
	fraudService      *affiliateService.FraudService
	cfg               *config.AffiliateConfig
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(
	db *gorm.DB,
	commissionSvc *affiliateService.CommissionService,
	fraudSvc *affiliateService.FraudService,
	cfg *config.AffiliateConfig,
) *TaskHandler {
	return &TaskHandler{
		db:                db,
		referralRepo:      repository.NewReferralRepository(db),
		commissionService: commissionSvc,
		fraudService:      fraudSvc,
		cfg:               cfg,
	}
}

// ProcessMonthlyRecurring 扫描活跃订阅补发月度续费佣金
func (h *TaskHandler) ProcessMonthlyRecurring(ctx context.Context) error {
	result, err := h.commissionService.ProcessMonthlyRecurringBatch(ctx)
	if err != nil {
		return err
	}

	if result.Processed > 0 || result.Errors > 0 {
		logger.Info("续费佣金批次完成",
			zap.Int("processed", result.Processed),
			zap.Int("errors", result.Errors))
	}
	return nil
}

// SweepFraud 对近期有点击活动的推广员跑风控检查
func (h *TaskHandler) SweepFraud(ctx context.Context) error {
	checked, err := h.fraudService.SweepRecentlyActive(ctx)
	if err != nil {
		return err
	}

	if checked > 0 {
		logger.Info("风控巡检完成", zap.Int("checked", checked))
	}
	return nil
}

// ExpireStaleReferrals 清理长期停留在已点击状态的推荐记录
// 90 天未注册的 pending 记录置为 expired 终态，不再参与归因，
// 避免 IP 兜底误匹配陈年会话
func (h *TaskHandler) ExpireStaleReferrals(ctx context.Context) error {
	staleBefore := time.Now().AddDate(0, 0, -90)

	expired, err := h.referralRepo.ExpireStalePending(ctx, staleBefore)
	if err != nil {
		return err
	}

	if expired > 0 {
		logger.Info("过期推荐记录清理完成", zap.Int64("expired", expired))
	}
	return nil
}

// SetupTasks 设置所有任务
func SetupTasks(scheduler *Scheduler, handler *TaskHandler) {
	recurringInterval := 24 * time.Hour
	if handler.cfg != nil && handler.cfg.RecurringBatchIntervalHours > 0 {
		recurringInterval = time.Duration(handler.cfg.RecurringBatchIntervalHours) * time.Hour
	}
	// 批次会遍历全部活跃订阅，放宽单次执行超时
	scheduler.AddTaskWithTimeout("ProcessMonthlyRecurring", recurringInterval, 30*time.Minute, handler.ProcessMonthlyRecurring)

	fraudInterval := 1 * time.Hour
	if handler.cfg != nil && handler.cfg.FraudSweepIntervalHours > 0 {
		fraudInterval = time.Duration(handler.cfg.FraudSweepIntervalHours) * time.Hour
	}
	scheduler.AddTask("SweepFraud", fraudInterval, handler.SweepFraud)

	// 每天清理一次陈旧的点击会话
	scheduler.AddTask("ExpireStaleReferrals", 24*time.Hour, handler.ExpireStaleReferrals)
}
