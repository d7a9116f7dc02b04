package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/provider"
	"github.com/diancan-pay/internal/queue"
	"github.com/diancan-pay/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
// 订单侧的支付结果同步在这里完成，支付核心对订单保持只读。
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentExpire, c.handlePaymentExpire)
	mux.HandleFunc(queue.TaskPaymentRefundQuery, c.handlePaymentRefundQuery)
	mux.HandleFunc(queue.TaskOrderPaymentPaid, c.handleOrderPaymentPaid)
	mux.HandleFunc(queue.TaskOrderPaymentClosed, c.handleOrderPaymentClosed)
}

// handlePaymentExpire 到期取消 pending 支付
func (c *Consumer) handlePaymentExpire(_ context.Context, task *asynq.Task) error {
	var payload queue.PaymentExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payment_expire_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentNo == "" {
		return nil
	}
	if err := c.PaymentService.ExpirePayment(payload.PaymentNo); err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			logger.Debugw("worker_payment_expire_skip_not_found", "payment_no", payload.PaymentNo)
			return nil
		}
		logger.Errorw("worker_payment_expire_failed", "payment_no", payload.PaymentNo, "error", err)
		return err
	}
	return nil
}

// handlePaymentRefundQuery 轮询网关退款结果
// 网关侧仍在处理时返回错误触发 asynq 重试退避。
func (c *Consumer) handlePaymentRefundQuery(ctx context.Context, task *asynq.Task) error {
	var payload queue.PaymentRefundQueryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_refund_query_unmarshal_failed", "error", err)
		return err
	}
	if payload.PaymentNo == "" || payload.RefundNo == "" {
		return nil
	}
	resolved, err := c.PaymentService.ResolveGatewayRefund(ctx, payload.PaymentNo, payload.RefundNo)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			logger.Debugw("worker_refund_query_skip_not_found", "payment_no", payload.PaymentNo)
			return nil
		}
		logger.Errorw("worker_refund_query_failed", "refund_no", payload.RefundNo, "error", err)
		return err
	}
	if resolved == nil {
		logger.Infow("worker_refund_still_processing", "refund_no", payload.RefundNo)
		return errors.New("refund still processing")
	}
	return nil
}

// handleOrderPaymentPaid 支付成功后推进订单状态
func (c *Consumer) handleOrderPaymentPaid(_ context.Context, task *asynq.Task) error {
	var payload queue.OrderPaymentPaidPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_paid_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		return nil
	}
	order, err := c.OrderRepo.GetByID(payload.OrderID)
	if err != nil {
		logger.Warnw("worker_order_paid_fetch_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	if order == nil {
		logger.Debugw("worker_order_paid_skip_not_found", "order_id", payload.OrderID)
		return nil
	}
	if order.Status != constants.OrderStatusPendingPayment {
		logger.Debugw("worker_order_paid_skip_status", "order_id", order.ID, "status", order.Status)
		return nil
	}
	now := time.Now()
	order.Status = constants.OrderStatusPaid
	order.PaidAt = &now
	if err := c.OrderRepo.Update(order); err != nil {
		logger.Errorw("worker_order_paid_update_failed", "order_id", order.ID, "error", err)
		return err
	}
	logger.Infow("worker_order_marked_paid", "order_id", order.ID, "payment_no", payload.PaymentNo)
	return nil
}

// handleOrderPaymentClosed 支付关闭后的订单侧同步
// 仅当订单已过支付截止时间才取消订单，否则保持可支付等待新的支付单。
func (c *Consumer) handleOrderPaymentClosed(_ context.Context, task *asynq.Task) error {
	var payload queue.OrderPaymentClosedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_closed_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		return nil
	}
	order, err := c.OrderRepo.GetByID(payload.OrderID)
	if err != nil {
		logger.Warnw("worker_order_closed_fetch_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	if order == nil || order.Status != constants.OrderStatusPendingPayment {
		return nil
	}
	if order.ExpiresAt == nil || time.Now().Before(*order.ExpiresAt) {
		logger.Debugw("worker_order_closed_keep_payable", "order_id", order.ID, "reason", payload.Reason)
		return nil
	}
	now := time.Now()
	order.Status = constants.OrderStatusCanceled
	order.CanceledAt = &now
	if err := c.OrderRepo.Update(order); err != nil {
		logger.Errorw("worker_order_closed_update_failed", "order_id", order.ID, "error", err)
		return err
	}
	logger.Infow("worker_order_canceled", "order_id", order.ID, "reason", payload.Reason)
	return nil
}
