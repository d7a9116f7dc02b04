package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment 支付记录
// 状态只允许沿状态机推进，终态记录永久保留用于审计与对账。
type Payment struct {
	ID              uint           `gorm:"primarykey" json:"id"`                                        // 主键
	PaymentNo       string         `gorm:"uniqueIndex;not null" json:"payment_no"`                      // 对外支付单号
	OrderID         uint           `gorm:"index;not null" json:"order_id"`                              // 订单ID
	UserID          uint           `gorm:"index;not null" json:"user_id"`                               // 用户ID
	Method          string         `gorm:"index;not null" json:"method"`                                // 支付方式（wechat/alipay/balance）
	InteractionMode string         `gorm:"not null" json:"interaction_mode"`                            // 交互方式（qr/redirect/balance）
	Amount          Money          `gorm:"type:decimal(20,2);not null" json:"amount"`                   // 支付金额
	Currency        string         `gorm:"not null" json:"currency"`                                    // 币种
	Status          string         `gorm:"index;not null" json:"status"`                                // 支付状态
	TransactionID   string         `gorm:"index" json:"transaction_id"`                                 // 网关确认流水号（确认后写入）
	GatewayRef      string         `gorm:"index" json:"gateway_ref"`                                    // 网关下单引用
	PrepayID        string         `gorm:"type:varchar(120)" json:"prepay_id"`                          // 预支付ID
	PayURL          string         `gorm:"type:text" json:"pay_url"`                                    // 跳转链接
	QRCode          string         `gorm:"type:text" json:"qr_code"`                                    // 二维码内容
	FailReason      string         `gorm:"type:varchar(255)" json:"fail_reason"`                        // 失败原因
	RefundNo        string         `gorm:"index" json:"refund_no"`                                      // 退款单号（最近一次）
	RefundStatus    string         `gorm:"index;default:''" json:"refund_status"`                       // 退款进度标记
	RefundAmount    Money          `gorm:"type:decimal(20,2);not null;default:0" json:"refund_amount"`  // 累计已确认退款金额
	RefundPending   Money          `gorm:"type:decimal(20,2);not null;default:0" json:"refund_pending"` // 在途退款金额（最多一笔）
	RefundReason    string         `gorm:"type:varchar(255)" json:"refund_reason"`                      // 退款原因（最近一次）
	PaidAt          *time.Time     `gorm:"index" json:"paid_at"`                                        // 支付时间
	RefundAt        *time.Time     `gorm:"index" json:"refund_at"`                                      // 最近退款时间
	ExpiredAt       *time.Time     `gorm:"index" json:"expired_at"`                                     // 过期时间
	NotifiedAt      *time.Time     `gorm:"index" json:"notified_at"`                                    // 最近回调时间
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`                                     // 创建时间
	UpdatedAt       time.Time      `gorm:"index" json:"updated_at"`                                     // 更新时间
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`                                              // 软删除时间
}

// TableName 指定表名
func (Payment) TableName() string {
	return "payments"
}
