package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/models"
)

// paymentTransitions 支付状态机合法迁移表
// pending → paid/failed/cancelled；paid → refunded（累计退款额打满时）。
// failed/cancelled/refunded 为终态。
var paymentTransitions = map[string][]string{
	constants.PaymentStatusPending: {
		constants.PaymentStatusPaid,
		constants.PaymentStatusFailed,
		constants.PaymentStatusCanceled,
	},
	constants.PaymentStatusPaid: {
		constants.PaymentStatusRefunded,
	},
}

// canTransition 判断状态迁移是否合法
func canTransition(from, to string) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// isTerminalStatus 判断是否终态
func isTerminalStatus(status string) bool {
	switch status {
	case constants.PaymentStatusFailed, constants.PaymentStatusCanceled, constants.PaymentStatusRefunded:
		return true
	}
	return false
}

// transitionError 构造带上下文的非法迁移错误
func transitionError(payment *models.Payment, action string) error {
	return fmt.Errorf("%w: 当前状态 %s 不允许 %s", ErrInvalidStateTransition, payment.Status, action)
}

// applyConfirm 确认支付：pending → paid
// 按流水号幂等：paid 状态下相同流水号为无操作（返回 changed=false），
// 不同流水号为确认冲突，永不覆盖已有确认。
func applyConfirm(payment *models.Payment, transactionID string, paidAmount models.Money, now time.Time) (bool, error) {
	transactionID = strings.TrimSpace(transactionID)
	if payment.Status == constants.PaymentStatusPaid {
		if transactionID != "" && payment.TransactionID == transactionID {
			return false, nil
		}
		return false, fmt.Errorf("%w: 已确认流水 %s，新流水 %s", ErrConflictingConfirmation, payment.TransactionID, transactionID)
	}
	if !canTransition(payment.Status, constants.PaymentStatusPaid) {
		return false, transitionError(payment, "confirm")
	}
	if !paidAmount.Equal(payment.Amount) {
		return false, fmt.Errorf("%w: 应付 %s，实付 %s", ErrPaymentAmountMismatch, payment.Amount.String(), paidAmount.String())
	}
	payment.Status = constants.PaymentStatusPaid
	payment.TransactionID = transactionID
	paidAt := now
	payment.PaidAt = &paidAt
	return true, nil
}

// applyFail 失败：pending → failed
func applyFail(payment *models.Payment, reason string, now time.Time) error {
	if payment.Status == constants.PaymentStatusFailed {
		return nil
	}
	if !canTransition(payment.Status, constants.PaymentStatusFailed) {
		return transitionError(payment, "fail")
	}
	payment.Status = constants.PaymentStatusFailed
	payment.FailReason = cleanLedgerRemark(reason, "支付失败")
	return nil
}

// applyCancel 取消：仅允许 pending → cancelled
func applyCancel(payment *models.Payment, now time.Time) error {
	if payment.Status == constants.PaymentStatusCanceled {
		return nil
	}
	if !canTransition(payment.Status, constants.PaymentStatusCanceled) {
		return transitionError(payment, "cancel")
	}
	payment.Status = constants.PaymentStatusCanceled
	return nil
}

// applyRequestRefund 发起退款：仅 paid 状态，单笔在途，累计不可超额
// 不改变支付状态，只记录在途退款标记。
func applyRequestRefund(payment *models.Payment, refundNo string, amount models.Money, reason string, now time.Time) error {
	if payment.Status != constants.PaymentStatusPaid {
		return transitionError(payment, "refund")
	}
	if payment.RefundStatus == constants.RefundStatusPending {
		return fmt.Errorf("%w: 退款单 %s", ErrRefundInFlight, payment.RefundNo)
	}
	if !amount.GreaterThan(models.ZeroMoney()) {
		return fmt.Errorf("%w: 退款金额必须为正", ErrInvalidInput)
	}
	if payment.RefundAmount.Add(amount).GreaterThan(payment.Amount) {
		return fmt.Errorf("%w: 已退 %s，本次 %s，支付金额 %s",
			ErrRefundExceedsPaid, payment.RefundAmount.String(), amount.String(), payment.Amount.String())
	}
	payment.RefundNo = refundNo
	payment.RefundStatus = constants.RefundStatusPending
	payment.RefundPending = amount
	payment.RefundReason = cleanLedgerRemark(reason, "用户申请退款")
	return nil
}

// applyConfirmRefund 确认退款：累计退款额打满时 paid → refunded
func applyConfirmRefund(payment *models.Payment, confirmedAmount models.Money, now time.Time) error {
	if payment.Status != constants.PaymentStatusPaid && payment.Status != constants.PaymentStatusRefunded {
		return transitionError(payment, "confirm_refund")
	}
	if payment.RefundStatus != constants.RefundStatusPending {
		return fmt.Errorf("%w: 无在途退款", ErrRefundNotFound)
	}
	if payment.RefundAmount.Add(confirmedAmount).GreaterThan(payment.Amount) {
		return fmt.Errorf("%w: 确认金额 %s 超出剩余可退额", ErrRefundExceedsPaid, confirmedAmount.String())
	}
	payment.RefundAmount = payment.RefundAmount.Add(confirmedAmount)
	payment.RefundPending = models.ZeroMoney()
	payment.RefundStatus = constants.RefundStatusCompleted
	refundAt := now
	payment.RefundAt = &refundAt
	if payment.RefundAmount.Equal(payment.Amount) {
		payment.Status = constants.PaymentStatusRefunded
	}
	return nil
}

// applyRefundFailed 网关退款失败：清除在途标记，允许重新发起
func applyRefundFailed(payment *models.Payment) error {
	if payment.RefundStatus != constants.RefundStatusPending {
		return nil
	}
	payment.RefundStatus = constants.RefundStatusNone
	payment.RefundPending = models.ZeroMoney()
	return nil
}
