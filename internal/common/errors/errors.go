// Package errors 定义业务错误码和错误处理
package errors

import (
	"fmt"
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新的应用错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// 通用错误码 (1000-1999)
var (
	ErrUnknown          = New(1000, "未知错误")
	ErrInvalidParams    = New(1001, "参数错误")
	ErrNotFound         = New(1002, "资源不存在")
	ErrAlreadyExists    = New(1003, "资源已存在")
	ErrDatabaseError    = New(1004, "数据库错误")
	ErrCacheError       = New(1005, "缓存错误")
	ErrInternalError    = New(1006, "内部错误")
	ErrExternalService  = New(1007, "外部服务错误")
	ErrRateLimitExceed  = New(1008, "请求过于频繁")
	ErrOperationFailed  = New(1009, "操作失败")
	ErrResourceNotFound = New(1010, "资源不存在")
)

// 认证错误码 (2000-2999)
var (
	ErrUnauthorized     = New(2000, "未登录")
	ErrTokenExpired     = New(2001, "登录已过期")
	ErrTokenInvalid     = New(2002, "无效的令牌")
	ErrTokenRefreshFail = New(2003, "刷新令牌失败")
	ErrPermissionDenied = New(2004, "权限不足")
	ErrAccountDisabled  = New(2005, "账号已禁用")
	ErrAccountLocked    = New(2006, "账号已锁定")
	ErrPasswordError    = New(2007, "密码错误")
	ErrCaptchaError     = New(2008, "验证码错误")
)

// 用户错误码 (3000-3999)
var (
	ErrUserNotFound   = New(3000, "用户不存在")
	ErrUserExists     = New(3001, "用户已存在")
	ErrEmailExists    = New(3002, "邮箱已被注册")
	ErrEmailInvalid   = New(3003, "无效的邮箱")
)

// 推广员错误码 (4000-4999)
var (
	ErrAffiliateNotFound  = New(4000, "推广员不存在")
	ErrAffiliateExists    = New(4001, "已注册为推广员")
	ErrAffiliateInactive  = New(4002, "推广员已停用")
	ErrAffiliateSuspended = New(4003, "推广员已被暂停")
	ErrCodeGenerateFailed = New(4004, "推广码生成失败")
	ErrLinkNotFound       = New(4005, "推广链接不存在")
	ErrLinkInactive       = New(4006, "推广链接已停用")
)

// 推荐错误码 (5000-5999)
var (
	ErrReferralNotFound    = New(5000, "推荐记录不存在")
	ErrReferralStatusError = New(5001, "推荐状态异常")
	ErrInvalidTransition   = New(5002, "非法的状态流转")
	ErrReferralClosed      = New(5003, "推荐已关闭")
	ErrSelfReferral        = New(5004, "不允许自我推荐")
)

// 佣金错误码 (6000-6999)
var (
	ErrCommissionNotFound    = New(6000, "佣金记录不存在")
	ErrCommissionStateError  = New(6001, "佣金状态异常")
	ErrCommissionExists      = New(6002, "佣金已生成")
	ErrRecurringDisabled     = New(6003, "续费佣金未开启")
	ErrCommissionNotApproved = New(6004, "佣金未审核")
)

// 结算错误码 (7000-7999)
var (
	ErrPayoutNotFound       = New(7000, "结算记录不存在")
	ErrPayoutStatusError    = New(7001, "结算状态异常")
	ErrPayoutBelowThreshold = New(7002, "未达到最低结算金额")
	ErrNothingToPayout      = New(7003, "无可结算佣金")
)

// 回调错误码 (8000-8999)
var (
	ErrWebhookEventInvalid = New(8000, "无效的回调事件")
	ErrWebhookUserUnknown  = New(8001, "无法识别回调用户")
)

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrUnknown.WithError(err)
}
