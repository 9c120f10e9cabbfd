// Package middleware 提供 HTTP 中间件
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Vale50/teacher-assistant-backend/internal/common/response"
)

// PermissionChecker 权限检查器接口
type PermissionChecker interface {
	HasPermission(roleCode, permissionCode string) bool
	HasAnyPermission(roleCode string, permissionCodes []string) bool
	HasAllPermissions(roleCode string, permissionCodes []string) bool
}

// PermissionConfig 权限配置
type PermissionConfig struct {
	Checker PermissionChecker
}

// RequirePermission 要求指定权限
func RequirePermission(checker PermissionChecker, permissionCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !checker.HasPermission(role, permissionCode) {
			response.Forbidden(c, "权限不足")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireAnyPermission 要求任一权限
func RequireAnyPermission(checker PermissionChecker, permissionCodes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !checker.HasAnyPermission(role, permissionCodes) {
			response.Forbidden(c, "权限不足")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireAllPermissions 要求全部权限
func RequireAllPermissions(checker PermissionChecker, permissionCodes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !checker.HasAllPermissions(role, permissionCodes) {
			response.Forbidden(c, "权限不足")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireRoles 要求指定角色
func RequireRoles(roles ...string) gin.HandlerFunc {
	roleSet := make(map[string]struct{})
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if _, ok := roleSet[role]; !ok {
			response.Forbidden(c, "权限不足")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireSuperAdmin 要求超级管理员权限
func RequireSuperAdmin() gin.HandlerFunc {
	return RequireRoles("super_admin")
}

// PermissionCodes 预定义权限码
const (
	// 用户管理
	PermissionUserList   = "user:list"
	PermissionUserUpdate = "user:update"

	// 推广员管理
	PermissionAffiliateList    = "affiliate:list"
	PermissionAffiliateUpdate  = "affiliate:update"
	PermissionAffiliateSuspend = "affiliate:suspend"

	// 佣金管理
	PermissionCommissionList    = "commission:list"
	PermissionCommissionApprove = "commission:approve"
	PermissionCommissionReverse = "commission:reverse"

	// 结算管理
	PermissionPayoutList     = "payout:list"
	PermissionPayoutComplete = "payout:complete"

	// 风控管理
	PermissionFraudReview = "fraud:review"

	// 系统管理
	PermissionSystemConfig = "system:config"
	PermissionSystemLog    = "system:log"
)

// 预定义角色码（角色由签发令牌的主平台分配）
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleOperator   = "operator"
)

// StaticPermissionChecker 基于内置角色权限矩阵的权限检查器
type StaticPermissionChecker struct {
	rolePermissions map[string]map[string]struct{}
}

// NewStaticPermissionChecker 创建内置权限矩阵检查器
func NewStaticPermissionChecker() *StaticPermissionChecker {
	matrix := map[string][]string{
		RoleSuperAdmin: {
			PermissionUserList, PermissionUserUpdate,
			PermissionAffiliateList, PermissionAffiliateUpdate, PermissionAffiliateSuspend,
			PermissionCommissionList, PermissionCommissionApprove, PermissionCommissionReverse,
			PermissionPayoutList, PermissionPayoutComplete,
			PermissionFraudReview,
			PermissionSystemConfig, PermissionSystemLog,
		},
		RoleAdmin: {
			PermissionUserList,
			PermissionAffiliateList, PermissionAffiliateUpdate, PermissionAffiliateSuspend,
			PermissionCommissionList, PermissionCommissionApprove, PermissionCommissionReverse,
			PermissionPayoutList, PermissionPayoutComplete,
			PermissionFraudReview,
		},
		RoleOperator: {
			PermissionAffiliateList,
			PermissionCommissionList,
			PermissionPayoutList,
		},
	}

	rolePermissions := make(map[string]map[string]struct{}, len(matrix))
	for role, codes := range matrix {
		set := make(map[string]struct{}, len(codes))
		for _, code := range codes {
			set[code] = struct{}{}
		}
		rolePermissions[role] = set
	}
	return &StaticPermissionChecker{rolePermissions: rolePermissions}
}

// HasPermission 检查角色是否拥有指定权限
func (s *StaticPermissionChecker) HasPermission(roleCode, permissionCode string) bool {
	set, ok := s.rolePermissions[roleCode]
	if !ok {
		return false
	}
	_, ok = set[permissionCode]
	return ok
}

// HasAnyPermission 检查角色是否拥有任一权限
func (s *StaticPermissionChecker) HasAnyPermission(roleCode string, permissionCodes []string) bool {
	for _, code := range permissionCodes {
		if s.HasPermission(roleCode, code) {
			return true
		}
	}
	return false
}

// HasAllPermissions 检查角色是否拥有全部权限
func (s *StaticPermissionChecker) HasAllPermissions(roleCode string, permissionCodes []string) bool {
	for _, code := range permissionCodes {
		if !s.HasPermission(roleCode, code) {
			return false
		}
	}
	return true
}
