package models

import (
	"time"

	"gorm.io/gorm"
)

// Order 点餐订单表
// 支付子系统只读取订单的可支付性，状态推进由队列任务异步完成。
type Order struct {
	ID          uint           `gorm:"primarykey" json:"id"`                                      // 主键
	OrderNo     string         `gorm:"uniqueIndex;not null" json:"order_no"`                      // 订单编号
	UserID      uint           `gorm:"index;not null" json:"user_id"`                             // 用户ID
	StoreName   string         `gorm:"type:varchar(120)" json:"store_name"`                       // 商家名称
	ItemsJSON   JSON           `gorm:"type:json" json:"items"`                                    // 餐品快照（名称/数量/单价）
	Remark      string         `gorm:"type:varchar(255)" json:"remark"`                           // 订单备注
	Status      string         `gorm:"index;not null" json:"status"`                              // 订单状态
	Currency    string         `gorm:"not null;default:'CNY'" json:"currency"`                    // 币种
	TotalAmount Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"` // 应付金额
	ExpiresAt   *time.Time     `gorm:"index" json:"expires_at"`                                   // 支付截止时间
	PaidAt      *time.Time     `gorm:"index" json:"paid_at"`                                      // 支付时间
	CanceledAt  *time.Time     `gorm:"index" json:"canceled_at"`                                  // 取消时间
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt   time.Time      `gorm:"index" json:"updated_at"`                                   // 更新时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                                            // 软删除时间
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
