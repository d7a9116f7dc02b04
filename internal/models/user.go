package models

import (
	"time"

	"gorm.io/gorm"
)

// User 用户表
type User struct {
	ID              uint           `gorm:"primarykey" json:"id"`                   // 主键
	Phone           string         `gorm:"uniqueIndex;not null" json:"phone"`      // 手机号（登录账号）
	PasswordHash    string         `gorm:"not null" json:"-"`                      // 登录密码哈希（不返回给前端）
	PayPasswordHash string         `gorm:"default:''" json:"-"`                    // 支付密码哈希（余额支付校验）
	DisplayName     string         `gorm:"default:''" json:"display_name"`         // 昵称
	Status          string         `gorm:"default:'active';index" json:"status"`   // 账号状态
	LastLoginAt     *time.Time     `json:"last_login_at"`                          // 最后登录时间
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`                // 创建时间
	UpdatedAt       time.Time      `gorm:"index" json:"updated_at"`                // 更新时间
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`                         // 软删除时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
