package models

import (
	"time"
)

// BalanceTransaction 余额流水明细（只追加，不修改）
// 前后快照完整记录每笔变动的效果，按创建顺序重放可还原账户当前状态。
type BalanceTransaction struct {
	ID            uint      `gorm:"primarykey" json:"id"`                                        // 主键
	UserID        uint      `gorm:"index;not null" json:"user_id"`                               // 用户ID
	Type          string    `gorm:"type:varchar(40);index;not null" json:"type"`                 // 交易类型（recharge/consume/refund/withdrawal）
	Stage         string    `gorm:"type:varchar(16);index;default:''" json:"stage"`              // 交易阶段（consume 专用：hold/capture/release）
	Amount        Money     `gorm:"type:decimal(20,2);not null" json:"amount"`                   // 交易金额
	BalanceBefore Money     `gorm:"type:decimal(20,2);not null;default:0" json:"balance_before"` // 变更前可用余额
	BalanceAfter  Money     `gorm:"type:decimal(20,2);not null;default:0" json:"balance_after"`  // 变更后可用余额
	FrozenBefore  Money     `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_before"`  // 变更前冻结余额
	FrozenAfter   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"frozen_after"`   // 变更后冻结余额
	Currency      string    `gorm:"type:varchar(16);not null;default:'CNY'" json:"currency"`     // 币种
	RelatedType   string    `gorm:"type:varchar(40);index" json:"related_type"`                  // 关联对象类型
	RelatedID     uint      `gorm:"index" json:"related_id"`                                     // 关联对象ID
	Reference     string    `gorm:"type:varchar(120);uniqueIndex" json:"reference"`              // 幂等参考号
	Remark        string    `gorm:"type:varchar(255)" json:"remark"`                             // 备注
	CreatedAt     time.Time `gorm:"index" json:"created_at"`                                     // 创建时间
}

// TableName 指定表名
func (BalanceTransaction) TableName() string {
	return "balance_transactions"
}
