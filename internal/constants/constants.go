package constants

// 订单状态常量
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusCompleted      = "completed"
	OrderStatusCanceled       = "canceled"
)

// 支付状态常量
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
	PaymentStatusCanceled = "cancelled"
)

// 支付方式常量
const (
	PaymentMethodWechat  = "wechat"
	PaymentMethodAlipay  = "alipay"
	PaymentMethodBalance = "balance"
)

// 支付交互方式常量
const (
	PaymentInteractionQR       = "qr"
	PaymentInteractionRedirect = "redirect"
	PaymentInteractionBalance  = "balance"
)

// 退款状态常量
const (
	RefundStatusNone      = ""
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
)

// 余额交易类型常量
const (
	BalanceTxnTypeRecharge   = "recharge"
	BalanceTxnTypeConsume    = "consume"
	BalanceTxnTypeRefund     = "refund"
	BalanceTxnTypeWithdrawal = "withdrawal"
)

// 余额交易阶段常量（仅 consume 类型使用）
const (
	BalanceTxnStageHold    = "hold"
	BalanceTxnStageCapture = "capture"
	BalanceTxnStageRelease = "release"
)

// 余额交易关联对象类型常量
const (
	BalanceRelatedTypePayment = "payment"
	BalanceRelatedTypeOrder   = "order"
	BalanceRelatedTypeAdmin   = "admin"
)

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// 网关查询结果常量
const (
	GatewayOutcomeSuccess = "success"
	GatewayOutcomeFailure = "failure"
	GatewayOutcomePending = "pending"
	GatewayOutcomeUnknown = "unknown"
)

// 对账差异类型常量
const (
	ReconciliationKindLocalPaidGatewayMissing = "local_paid_gateway_missing"
	ReconciliationKindGatewayPaidLocalPending = "gateway_paid_local_pending"
	ReconciliationKindAmountMismatch          = "amount_mismatch"
	ReconciliationKindGatewayUnknown          = "gateway_unknown"
)

// 默认币种
const DefaultCurrency = "CNY"

// 队列名称常量
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

// 异步任务类型常量
const (
	TaskPaymentExpire       = "payment:expire"
	TaskPaymentRefundQuery  = "payment:refund_query"
	TaskOrderPaymentPaid    = "order:payment_paid"
	TaskOrderPaymentClosed  = "order:payment_closed"
)
