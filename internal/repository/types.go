package repository

import "time"

// PaymentListFilter 查询支付列表的过滤条件
type PaymentListFilter struct {
	Page        int
	PageSize    int
	UserID      uint
	OrderID     uint
	Method      string
	Status      string
	PaymentNo   string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// BalanceTransactionListFilter 查询余额流水的过滤条件
type BalanceTransactionListFilter struct {
	Page        int
	PageSize    int
	UserID      uint
	Type        string
	Stage       string
	RelatedType string
	RelatedID   uint
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// OrderListFilter 查询订单列表的过滤条件
type OrderListFilter struct {
	Page        int
	PageSize    int
	UserID      uint
	Status      string
	OrderNo     string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}
