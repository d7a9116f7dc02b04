package queue

import (
	"encoding/json"

	"github.com/diancan-pay/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentExpire 支付单到期取消任务
	TaskPaymentExpire = constants.TaskPaymentExpire
	// TaskPaymentRefundQuery 网关退款结果轮询任务
	TaskPaymentRefundQuery = constants.TaskPaymentRefundQuery
	// TaskOrderPaymentPaid 支付成功后的订单侧推进任务
	TaskOrderPaymentPaid = constants.TaskOrderPaymentPaid
	// TaskOrderPaymentClosed 支付关闭后的订单侧同步任务
	TaskOrderPaymentClosed = constants.TaskOrderPaymentClosed
)

// PaymentExpirePayload 支付到期任务载荷
type PaymentExpirePayload struct {
	PaymentNo string `json:"payment_no"`
}

// PaymentRefundQueryPayload 退款轮询任务载荷
type PaymentRefundQueryPayload struct {
	PaymentNo string `json:"payment_no"`
	RefundNo  string `json:"refund_no"`
}

// OrderPaymentPaidPayload 订单支付成功任务载荷
type OrderPaymentPaidPayload struct {
	OrderID   uint   `json:"order_id"`
	PaymentNo string `json:"payment_no"`
}

// OrderPaymentClosedPayload 订单支付关闭任务载荷
type OrderPaymentClosedPayload struct {
	OrderID   uint   `json:"order_id"`
	PaymentNo string `json:"payment_no"`
	Reason    string `json:"reason"`
}

// NewPaymentExpireTask 创建支付到期任务
func NewPaymentExpireTask(payload PaymentExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentExpire, body), nil
}

// NewPaymentRefundQueryTask 创建退款轮询任务
func NewPaymentRefundQueryTask(payload PaymentRefundQueryPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentRefundQuery, body), nil
}

// NewOrderPaymentPaidTask 创建订单支付成功任务
func NewOrderPaymentPaidTask(payload OrderPaymentPaidPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderPaymentPaid, body), nil
}

// NewOrderPaymentClosedTask 创建订单支付关闭任务
func NewOrderPaymentClosedTask(payload OrderPaymentClosedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderPaymentClosed, body), nil
}
