package affiliate

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Vale50/teacher-assistant-backend/internal/common/config"
	"github.com/Vale50/teacher-assistant-backend/internal/common/logger"
	"github.com/Vale50/teacher-assistant-backend/internal/common/response"
	"github.com/Vale50/teacher-assistant-backend/internal/service/affiliate"
)

// PublicHandler 追踪跳转与支付回调处理器（无需认证）
type PublicHandler struct {
	referralService *affiliate.ReferralService
	webhookService  *affiliate.WebhookService
	cfg             *config.Config
}

// NewPublicHandler 创建公开处理器
func NewPublicHandler(
	referralSvc *affiliate.ReferralService,
	webhookSvc *affiliate.WebhookService,
	cfg *config.Config,
) *PublicHandler {
	return &PublicHandler{
		referralService: referralSvc,
		webhookService:  webhookSvc,
		cfg:             cfg,
	}
}

// Track 推广链接跳转
// @Summary 推广链接跳转（记录点击后 302 到落地页）
// @Tags 推广
// @Param short_code path string true "短码"
// @Success 302
// @Router /affiliate/track/{short_code} [get]
func (h *PublicHandler) Track(c *gin.Context) {
	shortCode := c.Param("short_code")

	// 记录失败不阻断跳转，访客始终到达落地页
	_, err := h.referralService.RecordClick(
		c.Request.Context(),
		shortCode,
		c.ClientIP(),
		c.Request.UserAgent(),
		c.Request.Referer(),
	)
	if err != nil {
		logger.Warn("点击记录失败",
			logger.Module("referral"),
			logger.Err(err),
		)
	}

	c.Redirect(http.StatusFound, h.cfg.Business.Affiliate.LandingURL)
}

// HandleWebhook 支付平台回调
// @Summary 支付平台回调（报文异常与身份未匹配一律 200 应答，落库失败 500 触发对方重试）
// @Tags 推广
// @Accept json
// @Produce json
// @Param request body affiliate.WebhookEvent true "事件内容"
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/webhooks/payment [post]
func (h *PublicHandler) HandleWebhook(c *gin.Context) {
	var event affiliate.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		// 报文异常重试也救不回来，直接应答吞掉
		logger.Warn("回调报文解析失败", logger.Err(err))
		response.Success(c, nil)
		return
	}

	if err := h.webhookService.HandleEvent(c.Request.Context(), &event); err != nil {
		// 落库失败必须给对方失败信号，佣金靠重试投递补回，幂等键保证不重复计佣
		logger.Error("回调处理失败",
			logger.EventType(event.EventType),
			logger.Err(err),
		)
		response.InternalError(c, "事件处理失败")
		return
	}

	response.Success(c, nil)
}

// RegisterTrackRoutes 注册追踪跳转路由（根路由组）
func (h *PublicHandler) RegisterTrackRoutes(r *gin.RouterGroup) {
	r.GET("/affiliate/track/:short_code", h.Track)
}

// RegisterWebhookRoutes 注册回调路由（/api/v1 路由组）
func (h *PublicHandler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/payment", h.HandleWebhook)
}
