package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/payment"
)

// NotifyResult 异步通知处理结果
// Acked 为 true 时处理器向网关返回成功应答；只有验签失败才拒绝应答，
// 其余异常（未知支付单、重复通知、已出终态）记录后照常应答以终止网关重试。
type NotifyResult struct {
	Acked     bool
	PaymentNo string
	Confirmed bool
	Duplicate bool
}

// HandleNotify 处理网关异步通知
// 验签→定位支付单→行锁内确认或置失败；确认成功后异步推进订单侧。
func (s *PaymentService) HandleNotify(ctx context.Context, method string, raw payment.RawNotification) (*NotifyResult, error) {
	gw, ok := s.gateways.Get(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, method)
	}

	notification, err := gw.ParseNotification(ctx, raw)
	if err != nil || notification == nil || !notification.SignatureValid {
		logger.Warnw("notify_rejected", "method", method, "error", err)
		if err == nil {
			if notification == nil {
				err = fmt.Errorf("%w: 网关未返回通知载荷", payment.ErrSignatureInvalid)
			} else {
				err = payment.ErrSignatureInvalid
			}
		}
		return &NotifyResult{Acked: false}, err
	}

	record, err := s.locateNotifiedPayment(notification)
	if err != nil {
		return nil, err
	}
	if record == nil {
		logger.Warnw("notify_payment_unknown",
			"method", method,
			"payment_no", notification.PaymentNo,
			"gateway_ref", notification.GatewayRef,
		)
		return &NotifyResult{Acked: true, PaymentNo: notification.PaymentNo}, nil
	}
	if record.Method != method {
		logger.Errorw("notify_method_mismatch",
			"payment_no", record.PaymentNo,
			"payment_method", record.Method,
			"notify_method", method,
		)
		return &NotifyResult{Acked: true, PaymentNo: record.PaymentNo}, nil
	}

	result := &NotifyResult{Acked: true, PaymentNo: record.PaymentNo}
	switch notification.Outcome {
	case constants.GatewayOutcomeSuccess:
		amount, err := models.NewMoneyFromString(notification.Amount)
		if err != nil {
			logger.Errorw("notify_amount_invalid", "payment_no", record.PaymentNo, "amount", notification.Amount)
			return result, nil
		}
		confirmed, err := s.confirmFromNotify(record.PaymentNo, notification.TransactionID, amount)
		if err != nil {
			// 已出终态或确认冲突：记录后照常应答，冲突进入人工对账
			s.logNotifyConfirmFailure(record, notification.TransactionID, err)
			return result, nil
		}
		result.Confirmed = confirmed != nil
		result.Duplicate = confirmed == nil
		if confirmed != nil {
			s.notifyOrderPaid(confirmed)
		}
	case constants.GatewayOutcomeFailure:
		if err := s.markPaymentFailed(record.PaymentNo, "网关回调支付失败"); err != nil {
			if !errors.Is(err, ErrInvalidStateTransition) {
				logger.Errorw("notify_fail_mark_failed", "payment_no", record.PaymentNo, "error", err)
			}
		} else {
			logger.Infow("notify_payment_failed", "payment_no", record.PaymentNo, "method", method)
		}
	default:
		logger.Infow("notify_outcome_ignored",
			"payment_no", record.PaymentNo,
			"outcome", notification.Outcome,
		)
	}
	return result, nil
}

// confirmFromNotify 回调确认：返回 (记录, nil) 表示本次完成确认，
// (nil, nil) 表示幂等重复，错误表示冲突或非法迁移。
func (s *PaymentService) confirmFromNotify(paymentNo, transactionID string, amount models.Money) (*models.Payment, error) {
	before, err := s.paymentRepo.GetByPaymentNo(paymentNo)
	if err != nil {
		return nil, err
	}
	alreadyPaid := before != nil && before.Status == constants.PaymentStatusPaid
	confirmed, err := s.confirmPayment(paymentNo, transactionID, amount, time.Now())
	if err != nil {
		return nil, err
	}
	if alreadyPaid {
		return nil, nil
	}
	logger.Infow("notify_payment_confirmed",
		"payment_no", paymentNo,
		"transaction_id", transactionID,
		"amount", amount.String(),
	)
	return confirmed, nil
}

// locateNotifiedPayment 按支付单号定位，找不到时回退网关引用
func (s *PaymentService) locateNotifiedPayment(notification *payment.Notification) (*models.Payment, error) {
	record, err := s.paymentRepo.GetByPaymentNo(notification.PaymentNo)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	if notification.GatewayRef != "" && notification.GatewayRef != notification.PaymentNo {
		return s.paymentRepo.GetLatestByGatewayRef(notification.GatewayRef)
	}
	return nil, nil
}

func (s *PaymentService) logNotifyConfirmFailure(record *models.Payment, transactionID string, err error) {
	switch {
	case errors.Is(err, ErrConflictingConfirmation):
		logger.Errorw("notify_confirmation_conflict",
			"payment_no", record.PaymentNo,
			"existing_transaction_id", record.TransactionID,
			"incoming_transaction_id", transactionID,
			"error", err,
		)
	case errors.Is(err, ErrPaymentAmountMismatch):
		logger.Errorw("notify_amount_mismatch",
			"payment_no", record.PaymentNo,
			"expected", record.Amount.String(),
			"error", err,
		)
	case errors.Is(err, ErrInvalidStateTransition):
		logger.Warnw("notify_payment_terminal",
			"payment_no", record.PaymentNo,
			"status", record.Status,
		)
	default:
		logger.Errorw("notify_confirm_failed", "payment_no", record.PaymentNo, "error", err)
	}
}
