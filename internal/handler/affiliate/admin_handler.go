package affiliate

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Vale50/teacher-assistant-backend/internal/common/handler"
	"github.com/Vale50/teacher-assistant-backend/internal/common/response"
	"github.com/Vale50/teacher-assistant-backend/internal/middleware"
	"github.com/Vale50/teacher-assistant-backend/internal/service/affiliate"
)

// AdminHandler 推广管理后台处理器
type AdminHandler struct {
	affiliateService *affiliate.AffiliateService
	fraudService     *affiliate.FraudService
	permissions      middleware.PermissionChecker
}

// NewAdminHandler 创建推广管理后台处理器
func NewAdminHandler(
	affiliateSvc *affiliate.AffiliateService,
	fraudSvc *affiliate.FraudService,
	permissions middleware.PermissionChecker,
) *AdminHandler {
	return &AdminHandler{
		affiliateService: affiliateSvc,
		fraudService:     fraudSvc,
		permissions:      permissions,
	}
}

// GetStats 获取推广全局统计
// @Summary 获取推广全局统计
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=repository.GlobalStats}
// @Router /api/admin/affiliate/stats [get]
func (h *AdminHandler) GetStats(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	stats, err := h.affiliateService.AdminStats(c.Request.Context())
	handler.MustSucceed(c, err, stats)
}

// ListAffiliates 获取推广员列表
// @Summary 获取推广员列表
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态过滤"
// @Param fraud_flag query bool false "仅看风控标记"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/affiliates [get]
func (h *AdminHandler) ListAffiliates(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if flag := c.Query("fraud_flag"); flag != "" {
		flagged, err := strconv.ParseBool(flag)
		if err != nil {
			response.BadRequest(c, "参数错误")
			return
		}
		filters["fraud_flag"] = flagged
	}

	affiliates, total, err := h.affiliateService.AdminListAffiliates(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, affiliates, total, p.Page, p.PageSize)
}

// GetAffiliate 获取推广员详情
// @Summary 获取推广员详情
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id} [get]
func (h *AdminHandler) GetAffiliate(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "推广员")
	if !ok {
		return
	}

	aff, err := h.affiliateService.AdminGetAffiliate(c.Request.Context(), id)
	handler.MustSucceed(c, err, aff)
}

// UpdateAffiliate 编辑推广员
// @Summary 编辑推广员状态与佣金配置
// @Tags 推广管理
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Param request body affiliate.AdminUpdateRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id} [put]
func (h *AdminHandler) UpdateAffiliate(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "推广员")
	if !ok {
		return
	}

	var req affiliate.AdminUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	aff, err := h.affiliateService.AdminUpdateAffiliate(c.Request.Context(), id, &req)
	handler.MustSucceed(c, err, aff)
}

// SuspendAffiliate 冻结推广员
// @Summary 冻结推广员
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response
// @Router /api/admin/affiliates/{id}/suspend [post]
func (h *AdminHandler) SuspendAffiliate(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "推广员")
	if !ok {
		return
	}

	err := h.affiliateService.AdminSuspend(c.Request.Context(), id)
	handler.MustSucceed(c, err, nil)
}

// FraudCheckResult 风控检查结果
type FraudCheckResult struct {
	AffiliateID int64 `json:"affiliate_id"`
	Flagged     bool  `json:"flagged"`
}

// FraudCheck 对推广员执行风控检查
// @Summary 对推广员执行风控检查
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=FraudCheckResult}
// @Router /api/admin/affiliates/{id}/fraud-check [post]
func (h *AdminHandler) FraudCheck(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "推广员")
	if !ok {
		return
	}

	flagged, err := h.fraudService.CheckAffiliate(c.Request.Context(), id)
	handler.MustSucceed(c, err, &FraudCheckResult{AffiliateID: id, Flagged: flagged})
}

// ApproveCommission 审核通过佣金
// @Summary 审核通过佣金
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param id path int true "佣金ID"
// @Success 200 {object} response.Response
// @Router /api/admin/commissions/{id}/approve [post]
func (h *AdminHandler) ApproveCommission(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "佣金记录")
	if !ok {
		return
	}

	err := h.affiliateService.ApproveCommission(c.Request.Context(), id)
	handler.MustSucceed(c, err, nil)
}

// RejectCommissionRequest 驳回佣金请求
type RejectCommissionRequest struct {
	Reason string `json:"reason" binding:"required"` // 驳回原因
}

// RejectCommission 驳回佣金
// @Summary 驳回佣金
// @Tags 推广管理
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "佣金ID"
// @Param request body RejectCommissionRequest true "请求参数"
// @Success 200 {object} response.Response
// @Router /api/admin/commissions/{id}/reject [post]
func (h *AdminHandler) RejectCommission(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "佣金记录")
	if !ok {
		return
	}

	var req RejectCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	err := h.affiliateService.RejectCommission(c.Request.Context(), id, req.Reason)
	handler.MustSucceed(c, err, nil)
}

// ReverseCommission 冲销佣金
// @Summary 冲销已审核佣金（回滚账面金额）
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param id path int true "佣金ID"
// @Success 200 {object} response.Response
// @Router /api/admin/commissions/{id}/reverse [post]
func (h *AdminHandler) ReverseCommission(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "佣金记录")
	if !ok {
		return
	}

	err := h.affiliateService.ReverseCommission(c.Request.Context(), id)
	handler.MustSucceed(c, err, nil)
}

// ListPayouts 获取结算列表
// @Summary 获取结算列表
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态过滤"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/payouts [get]
func (h *AdminHandler) ListPayouts(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}

	payouts, total, err := h.affiliateService.AdminListPayouts(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, payouts, total, p.Page, p.PageSize)
}

// CompletePayout 确认打款完成
// @Summary 确认打款完成
// @Tags 推广管理
// @Produce json
// @Security Bearer
// @Param id path int true "结算ID"
// @Success 200 {object} response.Response
// @Router /api/admin/payouts/{id}/complete [post]
func (h *AdminHandler) CompletePayout(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "结算记录")
	if !ok {
		return
	}

	err := h.affiliateService.AdminCompletePayout(c.Request.Context(), id)
	handler.MustSucceed(c, err, nil)
}

// FailPayoutRequest 打款失败请求
type FailPayoutRequest struct {
	Reason string `json:"reason" binding:"required"` // 失败原因
}

// FailPayout 标记打款失败
// @Summary 标记打款失败
// @Tags 推广管理
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "结算ID"
// @Param request body FailPayoutRequest true "请求参数"
// @Success 200 {object} response.Response
// @Router /api/admin/payouts/{id}/fail [post]
func (h *AdminHandler) FailPayout(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "结算记录")
	if !ok {
		return
	}

	var req FailPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	err := h.affiliateService.AdminFailPayout(c.Request.Context(), id, req.Reason)
	handler.MustSucceed(c, err, nil)
}

// RegisterRoutes 注册管理后台路由
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/affiliate/stats", middleware.RequirePermission(h.permissions, middleware.PermissionAffiliateList), h.GetStats)

	affiliates := r.Group("/affiliates")
	{
		affiliates.GET("", middleware.RequirePermission(h.permissions, middleware.PermissionAffiliateList), h.ListAffiliates)
		affiliates.GET("/:id", middleware.RequirePermission(h.permissions, middleware.PermissionAffiliateList), h.GetAffiliate)
		affiliates.PUT("/:id", middleware.RequirePermission(h.permissions, middleware.PermissionAffiliateUpdate), h.UpdateAffiliate)
		affiliates.POST("/:id/suspend", middleware.RequirePermission(h.permissions, middleware.PermissionAffiliateSuspend), h.SuspendAffiliate)
		affiliates.POST("/:id/fraud-check", middleware.RequirePermission(h.permissions, middleware.PermissionFraudReview), h.FraudCheck)
	}

	commissions := r.Group("/commissions")
	commissions.Use(middleware.RequirePermission(h.permissions, middleware.PermissionCommissionApprove))
	{
		commissions.POST("/:id/approve", h.ApproveCommission)
		commissions.POST("/:id/reject", h.RejectCommission)
		commissions.POST("/:id/reverse", middleware.RequirePermission(h.permissions, middleware.PermissionCommissionReverse), h.ReverseCommission)
	}

	payouts := r.Group("/payouts")
	{
		payouts.GET("", middleware.RequirePermission(h.permissions, middleware.PermissionPayoutList), h.ListPayouts)
		payouts.POST("/:id/complete", middleware.RequirePermission(h.permissions, middleware.PermissionPayoutComplete), h.CompletePayout)
		payouts.POST("/:id/fail", middleware.RequirePermission(h.permissions, middleware.PermissionPayoutComplete), h.FailPayout)
	}
}
