// Package affiliate 提供推广结算相关的 HTTP Handler
package affiliate

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/common/handler"
	"github.com/Vale50/teacher-assistant-backend/internal/common/qrcode"
	"github.com/Vale50/teacher-assistant-backend/internal/common/response"
	"github.com/Vale50/teacher-assistant-backend/internal/models"
	"github.com/Vale50/teacher-assistant-backend/internal/service/affiliate"
)

// productCatalog 当前可推广的产品目录
var productCatalog = []affiliate.CatalogProduct{
	{Type: "trial", ID: "plan_trial", Name: "免费试用"},
	{Type: "subscription", ID: "plan_pro_monthly", Name: "专业版（月付）"},
	{Type: "subscription", ID: "plan_pro_yearly", Name: "专业版（年付）"},
}

// Handler 推广员处理器
type Handler struct {
	affiliateService *affiliate.AffiliateService
	referralService  *affiliate.ReferralService
	qrGenerator      *qrcode.Generator
	cfg              *config.Config
}

// NewHandler 创建推广员处理器
func NewHandler(
	affiliateSvc *affiliate.AffiliateService,
	referralSvc *affiliate.ReferralService,
	qrGenerator *qrcode.Generator,
	cfg *config.Config,
) *Handler {
	return &Handler{
		affiliateService: affiliateSvc,
		referralService:  referralSvc,
		qrGenerator:      qrGenerator,
		cfg:              cfg,
	}
}

// Register 注册成为推广员
// @Summary 注册成为推广员
// @Tags 推广
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.RegisterRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/v1/affiliate/register [post]
func (h *Handler) Register(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req affiliate.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	result, err := h.affiliateService.Register(c.Request.Context(), userID, &req)
	handler.MustSucceed(c, err, result)
}

// GetDashboardStats 获取推广数据概览
// @Summary 获取推广数据概览
// @Tags 推广
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=affiliate.DashboardStats}
// @Router /api/v1/affiliate/dashboard/stats [get]
func (h *Handler) GetDashboardStats(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	stats, err := h.affiliateService.GetDashboardStats(c.Request.Context(), userID)
	handler.MustSucceed(c, err, stats)
}

// GetReferrals 获取我的推荐记录
// @Summary 获取我的推荐记录
// @Tags 推广
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/dashboard/referrals [get]
func (h *Handler) GetReferrals(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	referrals, total, err := h.affiliateService.ListReferrals(c.Request.Context(), userID, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, referrals, total, p.Page, p.PageSize)
}

// GetCommissions 获取我的佣金记录
// @Summary 获取我的佣金记录
// @Tags 推广
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/dashboard/commissions [get]
func (h *Handler) GetCommissions(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	commissions, total, err := h.affiliateService.ListCommissions(c.Request.Context(), userID, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, commissions, total, p.Page, p.PageSize)
}

// GetPayouts 获取我的结算记录
// @Summary 获取我的结算记录
// @Tags 推广
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/affiliate/dashboard/payouts [get]
func (h *Handler) GetPayouts(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	payouts, total, err := h.affiliateService.ListPayouts(c.Request.Context(), userID, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, payouts, total, p.Page, p.PageSize)
}

// LinkView 推广链接及其完整追踪地址
type LinkView struct {
	*models.ProductLink
	TrackingURL string `json:"tracking_url"`
}

// trackingURL 根据短码拼接追踪地址
func (h *Handler) trackingURL(shortCode string) string {
	return fmt.Sprintf("%s/affiliate/track/%s", h.cfg.Server.BaseURL, shortCode)
}

// GetLinks 获取我的推广链接
// @Summary 获取我的推广链接（首次访问自动生成）
// @Tags 推广
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=[]LinkView}
// @Router /api/v1/affiliate/dashboard/links [get]
func (h *Handler) GetLinks(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	aff, err := h.affiliateService.GetByUserID(c.Request.Context(), userID)
	if handler.HandleError(c, err) {
		return
	}

	links, err := h.affiliateService.EnsureProductLinks(c.Request.Context(), aff.ID, productCatalog)
	if handler.HandleError(c, err) {
		return
	}

	views := make([]*LinkView, 0, len(links))
	for _, link := range links {
		views = append(views, &LinkView{
			ProductLink: link,
			TrackingURL: h.trackingURL(link.ShortCode),
		})
	}
	response.Success(c, views)
}

// GetLinkQRCode 获取推广链接二维码
// @Summary 获取推广链接二维码（默认 PNG，format=dataurl 返回可嵌入的 Data URL）
// @Tags 推广
// @Produce png
// @Security Bearer
// @Param id path int true "链接ID"
// @Param format query string false "返回格式" Enums(png, dataurl)
// @Success 200 {file} binary
// @Router /api/v1/affiliate/links/{id}/qrcode [get]
func (h *Handler) GetLinkQRCode(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	linkID, ok := handler.ParseID(c, "推广链接")
	if !ok {
		return
	}

	link, err := h.affiliateService.GetOwnedLink(c.Request.Context(), userID, linkID)
	if handler.HandleError(c, err) {
		return
	}

	target := h.trackingURL(link.ShortCode)

	if c.Query("format") == "dataurl" {
		dataURL, err := h.qrGenerator.GenerateDataURL(target)
		if handler.HandleError(c, err) {
			return
		}
		response.Success(c, gin.H{"qrcode": dataURL})
		return
	}

	png, err := h.qrGenerator.GeneratePNG(target)
	if handler.HandleError(c, err) {
		return
	}

	c.Data(200, "image/png", png)
}

// CreatePayout 申请结算
// @Summary 申请结算（打包全部已审核佣金）
// @Tags 推广
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=models.Payout}
// @Router /api/v1/affiliate/payouts [post]
func (h *Handler) CreatePayout(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	payout, err := h.affiliateService.CreatePayout(c.Request.Context(), userID)
	handler.MustSucceed(c, err, payout)
}

// SignupAttributionRequest 注册归因请求
type SignupAttributionRequest struct {
	Email string `json:"email"` // 注册邮箱（缺省时按来源 IP 兜底归因）
}

// AttributeSignup 注册归因回填
// @Summary 注册归因回填（新用户注册后由前端上报）
// @Tags 推广
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body SignupAttributionRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Referral}
// @Router /api/v1/affiliate/attribution/signup [post]
func (h *Handler) AttributeSignup(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	var req SignupAttributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	referral, err := h.referralService.RecordSignup(c.Request.Context(), req.Email, c.ClientIP(), userID)
	handler.MustSucceed(c, err, referral)
}

// AttributeTrialStart 试用开始归因
// @Summary 试用开始归因（开通试用后由前端上报，触发注册佣金）
// @Tags 推广
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=models.Commission}
// @Router /api/v1/affiliate/attribution/trial [post]
func (h *Handler) AttributeTrialStart(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	commission, err := h.referralService.RecordTrialStart(c.Request.Context(), userID)
	handler.MustSucceed(c, err, commission)
}

// RegisterRoutes 注册用户端路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	aff := r.Group("/affiliate")
	{
		aff.POST("/register", h.Register)
		aff.POST("/payouts", h.CreatePayout)
		aff.GET("/links/:id/qrcode", h.GetLinkQRCode)

		dashboard := aff.Group("/dashboard")
		{
			dashboard.GET("/stats", h.GetDashboardStats)
			dashboard.GET("/referrals", h.GetReferrals)
			dashboard.GET("/commissions", h.GetCommissions)
			dashboard.GET("/payouts", h.GetPayouts)
			dashboard.GET("/links", h.GetLinks)
		}

		attribution := aff.Group("/attribution")
		{
			attribution.POST("/signup", h.AttributeSignup)
			attribution.POST("/trial", h.AttributeTrialStart)
		}
	}
}
