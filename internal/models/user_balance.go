package models

import (
	"time"

	"gorm.io/gorm"
)

// UserBalance 用户余额账户（每用户一条）
// 余额变动只允许经由余额账本服务，且每次变动必须伴随一条 BalanceTransaction。
type UserBalance struct {
	ID            uint           `gorm:"primarykey" json:"id"`                                        // 主键
	UserID        uint           `gorm:"uniqueIndex;not null" json:"user_id"`                         // 用户ID
	Balance       Money          `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`        // 可用余额
	FrozenBalance Money          `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_balance"` // 冻结余额（预留未捕获）
	TotalRecharge Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_recharge"` // 累计充值
	TotalConsume  Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_consume"`  // 累计消费
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`                                     // 创建时间
	UpdatedAt     time.Time      `gorm:"index" json:"updated_at"`                                     // 更新时间
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`                                              // 软删除时间
}

// TableName 指定表名
func (UserBalance) TableName() string {
	return "user_balances"
}
