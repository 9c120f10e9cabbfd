// Package models 定义数据模型
package models

import (
	"strings"
	"time"
)

// User 用户模型（推广引擎只读取身份字段，账号体系由主站维护）
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	Role      string    `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	Status    int8      `gorm:"type:smallint;not null;default:1" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (User) TableName() string {
	return "users"
}

// UserStatus 用户状态
const (
	UserStatusDisabled = 0 // 禁用
	UserStatusActive   = 1 // 正常
)

// UserRole 用户角色
const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

// EmailDomain 返回邮箱 @ 之后的域名部分，无效邮箱返回空串
func EmailDomain(email string) string {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return strings.ToLower(domain)
}
