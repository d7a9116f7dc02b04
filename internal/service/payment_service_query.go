package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diancan-pay/internal/cache"
	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"
)

const methodsCacheKey = "payment:methods"
const methodsCacheTTL = 5 * time.Minute

// GetPaymentStatus 查询支付状态
// pending 的网关支付超过刷新阈值时先向网关求证并对账再应答；
// 网关查询超时报告 unknown，不改变本地状态。
func (s *PaymentService) GetPaymentStatus(ctx context.Context, userID uint, paymentID uint) (*models.Payment, error) {
	record, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if record == nil || (userID != 0 && record.UserID != userID) {
		return nil, ErrPaymentNotFound
	}
	if !s.needsStatusRefresh(record) {
		return record, nil
	}
	reconciled, err := s.reconcilePendingPayment(ctx, record)
	if err != nil {
		logger.Warnw("payment_status_refresh_failed", "payment_no", record.PaymentNo, "error", err)
		return record, nil
	}
	if reconciled != nil {
		return reconciled, nil
	}
	return record, nil
}

// needsStatusRefresh 判断是否触发网关侧状态求证
// 仅针对已分发（有网关引用）且滞留超过阈值的 pending 网关支付。
func (s *PaymentService) needsStatusRefresh(record *models.Payment) bool {
	if record.Status != constants.PaymentStatusPending {
		return false
	}
	if record.Method == constants.PaymentMethodBalance || record.GatewayRef == "" {
		return false
	}
	threshold := 90
	if s.cfg != nil && s.cfg.StatusRefreshSeconds > 0 {
		threshold = s.cfg.StatusRefreshSeconds
	}
	return time.Since(record.CreatedAt) >= time.Duration(threshold)*time.Second
}

// reconcilePendingPayment 以网关侧状态为准推进滞留的 pending 支付
// 返回 (nil, nil) 表示网关侧仍为 pending/unknown，本地保持不变。
func (s *PaymentService) reconcilePendingPayment(ctx context.Context, record *models.Payment) (*models.Payment, error) {
	gw, ok := s.gateways.Get(record.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, record.Method)
	}
	status, err := gw.QueryStatus(ctx, record.PaymentNo)
	if err != nil {
		return nil, err
	}
	switch status.Outcome {
	case constants.GatewayOutcomeSuccess:
		amount := record.Amount
		if status.Amount != "" {
			if parsed, perr := models.NewMoneyFromString(status.Amount); perr == nil && !parsed.IsZero() {
				amount = parsed
			}
		}
		confirmed, err := s.confirmPayment(record.PaymentNo, status.TransactionID, amount, time.Now())
		if err != nil {
			if errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, ErrConflictingConfirmation) {
				logger.Errorw("payment_reconcile_confirm_rejected", "payment_no", record.PaymentNo, "error", err)
				return nil, nil
			}
			return nil, err
		}
		logger.Infow("payment_reconciled_paid",
			"payment_no", record.PaymentNo,
			"transaction_id", status.TransactionID,
		)
		s.notifyOrderPaid(confirmed)
		return confirmed, nil
	case constants.GatewayOutcomeFailure:
		if err := s.markPaymentFailed(record.PaymentNo, "网关侧支付已关闭"); err != nil {
			if errors.Is(err, ErrInvalidStateTransition) {
				return nil, nil
			}
			return nil, err
		}
		logger.Infow("payment_reconciled_failed", "payment_no", record.PaymentNo)
		return s.paymentRepo.GetByPaymentNo(record.PaymentNo)
	default:
		return nil, nil
	}
}

// ListHistory 查询用户支付历史（分页）
func (s *PaymentService) ListHistory(userID uint, filter repository.PaymentListFilter) ([]models.Payment, int64, error) {
	if userID == 0 {
		return nil, 0, ErrUserNotFound
	}
	filter.UserID = userID
	return s.paymentRepo.List(filter)
}

// ListPaymentsAdmin 管理端查询支付记录
func (s *PaymentService) ListPaymentsAdmin(filter repository.PaymentListFilter) ([]models.Payment, int64, error) {
	return s.paymentRepo.List(filter)
}

// GetPaymentByID 管理端按 ID 查询支付记录
func (s *PaymentService) GetPaymentByID(id uint) (*models.Payment, error) {
	record, err := s.paymentRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrPaymentNotFound
	}
	return record, nil
}

// PaymentBill 用户每日账单
type PaymentBill struct {
	Day          string       `json:"day"`
	PaidCount    int64        `json:"paid_count"`
	PaidAmount   models.Money `json:"paid_amount"`
	RefundAmount models.Money `json:"refund_amount"`
	NetAmount    models.Money `json:"net_amount"`
}

// GetBills 用户按日消费账单
func (s *PaymentService) GetBills(userID uint, from, to time.Time) ([]PaymentBill, error) {
	if userID == 0 {
		return nil, ErrUserNotFound
	}
	rows, err := s.paymentRepo.GetUserDailyBills(userID, from, to)
	if err != nil {
		return nil, err
	}
	bills := make([]PaymentBill, 0, len(rows))
	for _, row := range rows {
		bills = append(bills, PaymentBill{
			Day:          row.Day,
			PaidCount:    row.PaidCount,
			PaidAmount:   row.PaidAmount,
			RefundAmount: row.RefundAmount,
			NetAmount:    row.PaidAmount.Sub(row.RefundAmount),
		})
	}
	return bills, nil
}

// PaymentMethodView 对外支付方式视图
type PaymentMethodView struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

// ListMethods 查询已启用的支付方式（redis 缓存）
func (s *PaymentService) ListMethods(ctx context.Context) ([]PaymentMethodView, error) {
	var cached []PaymentMethodView
	hit, err := cache.GetJSON(ctx, methodsCacheKey, &cached)
	if err != nil {
		logger.Warnw("methods_cache_read_failed", "error", err)
	}
	if hit {
		return cached, nil
	}
	settings, err := s.methodRepo.ListActive()
	if err != nil {
		return nil, err
	}
	views := make([]PaymentMethodView, 0, len(settings))
	for _, setting := range settings {
		views = append(views, PaymentMethodView{
			Code:        setting.Code,
			Name:        setting.Name,
			Description: setting.Description,
			SortOrder:   setting.SortOrder,
		})
	}
	if err := cache.SetJSON(ctx, methodsCacheKey, views, methodsCacheTTL); err != nil {
		logger.Warnw("methods_cache_write_failed", "error", err)
	}
	return views, nil
}
