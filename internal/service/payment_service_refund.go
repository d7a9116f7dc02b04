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
	"github.com/diancan-pay/internal/queue"

	"gorm.io/gorm"
)

// RefundPaymentInput 退款申请输入
type RefundPaymentInput struct {
	UserID    uint
	PaymentID uint
	Amount    models.Money // 零值表示全额退款
	Reason    string
}

// RefundPayment 发起退款
// 仅 paid 状态可退，支持累计部分退款且同一时间最多一笔在途。
// 余额方式同步入账并确认；网关方式受理后经队列轮询至终局。
func (s *PaymentService) RefundPayment(ctx context.Context, input RefundPaymentInput) (*models.Payment, error) {
	refundNo := GenerateRefundNo()
	var record *models.Payment
	var amount models.Money
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		locked, err := repo.GetByIDForUpdate(input.PaymentID)
		if err != nil {
			return err
		}
		if locked == nil || (input.UserID != 0 && locked.UserID != input.UserID) {
			return ErrPaymentNotFound
		}
		amount = input.Amount
		if amount.IsZero() {
			amount = locked.Amount.Sub(locked.RefundAmount)
		}
		if err := applyRequestRefund(locked, refundNo, amount, input.Reason, time.Now()); err != nil {
			return err
		}
		record = locked
		return repo.Update(locked)
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("refund_request_accepted",
		"payment_no", record.PaymentNo,
		"refund_no", refundNo,
		"amount", amount.String(),
		"method", record.Method,
	)

	if record.Method == constants.PaymentMethodBalance {
		return s.settleBalanceRefund(record, refundNo, amount)
	}
	return s.dispatchGatewayRefund(ctx, record, refundNo, amount)
}

// settleBalanceRefund 余额退款：入账后立即确认
func (s *PaymentService) settleBalanceRefund(record *models.Payment, refundNo string, amount models.Money) (*models.Payment, error) {
	err := s.ledger.Credit(LedgerEntryInput{
		UserID:      record.UserID,
		Amount:      amount,
		Reference:   fmt.Sprintf("refund:%s", refundNo),
		RelatedType: constants.BalanceRelatedTypePayment,
		RelatedID:   record.ID,
		Remark:      fmt.Sprintf("支付单 %s 退款", record.PaymentNo),
	})
	if err != nil {
		// 入账失败回滚在途标记，允许重新发起
		if rerr := s.clearRefundMarker(record.PaymentNo); rerr != nil {
			logger.Errorw("refund_marker_clear_failed", "payment_no", record.PaymentNo, "error", rerr)
		}
		return nil, err
	}
	settled, err := s.confirmRefund(record.PaymentNo, amount)
	if err != nil {
		return nil, err
	}
	logger.Infow("refund_balance_settled",
		"payment_no", record.PaymentNo,
		"refund_no", refundNo,
		"amount", amount.String(),
	)
	return settled, nil
}

// dispatchGatewayRefund 网关退款：受理后延迟轮询退款结果
func (s *PaymentService) dispatchGatewayRefund(ctx context.Context, record *models.Payment, refundNo string, amount models.Money) (*models.Payment, error) {
	gw, ok := s.gateways.Get(record.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, record.Method)
	}
	result, err := gw.Refund(ctx, payment.RefundInput{
		PaymentNo:   record.PaymentNo,
		RefundNo:    refundNo,
		Amount:      amount.String(),
		TotalAmount: record.Amount.String(),
		Currency:    record.Currency,
		Reason:      record.RefundReason,
	})
	if err != nil || (result != nil && !result.Accepted) {
		logger.Errorw("refund_gateway_rejected",
			"payment_no", record.PaymentNo,
			"refund_no", refundNo,
			"error", err,
		)
		if rerr := s.clearRefundMarker(record.PaymentNo); rerr != nil {
			logger.Errorw("refund_marker_clear_failed", "payment_no", record.PaymentNo, "error", rerr)
		}
		if err == nil {
			err = fmt.Errorf("%w: 网关未受理退款", ErrGatewayRejected)
		} else if errors.Is(err, payment.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		} else {
			err = fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		return nil, err
	}

	if err := s.queueClient.EnqueuePaymentRefundQuery(queue.PaymentRefundQueryPayload{
		PaymentNo: record.PaymentNo,
		RefundNo:  refundNo,
	}, s.refundQueryDelay()); err != nil {
		logger.Warnw("refund_query_enqueue_failed", "refund_no", refundNo, "error", err)
	}
	logger.Infow("refund_gateway_accepted",
		"payment_no", record.PaymentNo,
		"refund_no", refundNo,
		"refund_ref", result.RefundRef,
	)
	return record, nil
}

// GetRefundStatus 查询退款进度
// 在途的网关退款顺带向网关求证并结算终局。
func (s *PaymentService) GetRefundStatus(ctx context.Context, userID uint, paymentID uint) (*models.Payment, error) {
	record, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if record == nil || (userID != 0 && record.UserID != userID) {
		return nil, ErrPaymentNotFound
	}
	if record.RefundStatus != constants.RefundStatusPending || record.Method == constants.PaymentMethodBalance {
		return record, nil
	}
	resolved, err := s.ResolveGatewayRefund(ctx, record.PaymentNo, record.RefundNo)
	if err != nil {
		logger.Warnw("refund_status_resolve_failed", "payment_no", record.PaymentNo, "error", err)
		return record, nil
	}
	if resolved != nil {
		return resolved, nil
	}
	return record, nil
}

// ResolveGatewayRefund 向网关求证在途退款并结算（队列任务与查询共用）
// 返回 (nil, nil) 表示网关侧仍在处理，调用方可稍后再试。
func (s *PaymentService) ResolveGatewayRefund(ctx context.Context, paymentNo, refundNo string) (*models.Payment, error) {
	record, err := s.paymentRepo.GetByPaymentNo(paymentNo)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentNotFound
	}
	if record.RefundStatus != constants.RefundStatusPending || record.RefundNo != refundNo {
		// 已被其他路径结算
		return record, nil
	}
	gw, ok := s.gateways.Get(record.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, record.Method)
	}
	result, err := gw.QueryRefund(ctx, paymentNo, refundNo)
	if err != nil {
		return nil, err
	}
	switch result.Outcome {
	case constants.GatewayOutcomeSuccess:
		amount := record.RefundPending
		if result.Amount != "" {
			if parsed, perr := models.NewMoneyFromString(result.Amount); perr == nil && !parsed.IsZero() {
				amount = parsed
			}
		}
		settled, err := s.confirmRefund(paymentNo, amount)
		if err != nil {
			return nil, err
		}
		logger.Infow("refund_gateway_settled",
			"payment_no", paymentNo,
			"refund_no", refundNo,
			"amount", amount.String(),
			"status", settled.Status,
		)
		return settled, nil
	case constants.GatewayOutcomeFailure:
		if err := s.clearRefundMarker(paymentNo); err != nil {
			return nil, err
		}
		logger.Warnw("refund_gateway_failed", "payment_no", paymentNo, "refund_no", refundNo)
		return s.paymentRepo.GetByPaymentNo(paymentNo)
	default:
		// pending / unknown：保持在途，等待下一轮轮询
		return nil, nil
	}
}

// confirmRefund 行锁内确认退款
func (s *PaymentService) confirmRefund(paymentNo string, confirmedAmount models.Money) (*models.Payment, error) {
	var settled *models.Payment
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		record, err := repo.GetByPaymentNoForUpdate(paymentNo)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrPaymentNotFound
		}
		if err := applyConfirmRefund(record, confirmedAmount, time.Now()); err != nil {
			return err
		}
		settled = record
		return repo.Update(record)
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// clearRefundMarker 行锁内清除在途退款标记
func (s *PaymentService) clearRefundMarker(paymentNo string) error {
	return models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		record, err := repo.GetByPaymentNoForUpdate(paymentNo)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrPaymentNotFound
		}
		if err := applyRefundFailed(record); err != nil {
			return err
		}
		return repo.Update(record)
	})
}

func (s *PaymentService) refundQueryDelay() time.Duration {
	seconds := 30
	if s.cfg != nil && s.cfg.RefundQueryDelaySeconds > 0 {
		seconds = s.cfg.RefundQueryDelaySeconds
	}
	return time.Duration(seconds) * time.Second
}
