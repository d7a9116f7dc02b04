package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentMethodSetting 支付方式配置
// 只承载启用开关与展示信息，网关密钥走启动配置，不落库。
type PaymentMethodSetting struct {
	ID          uint           `gorm:"primarykey" json:"id"`                   // 主键
	Code        string         `gorm:"uniqueIndex;not null" json:"code"`       // 方式编码（wechat/alipay/balance）
	Name        string         `gorm:"not null" json:"name"`                   // 展示名称
	Description string         `gorm:"type:varchar(255)" json:"description"`   // 展示描述
	IsActive    bool           `gorm:"not null;default:true" json:"is_active"` // 是否启用
	SortOrder   int            `gorm:"not null;default:0" json:"sort_order"`   // 排序
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`                // 创建时间
	UpdatedAt   time.Time      `gorm:"index" json:"updated_at"`                // 更新时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                         // 软删除时间
}

// TableName 指定表名
func (PaymentMethodSetting) TableName() string {
	return "payment_method_settings"
}
