package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diancan-pay/internal/config"
	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/payment"
	"github.com/diancan-pay/internal/queue"
	"github.com/diancan-pay/internal/repository"

	"gorm.io/gorm"
)

// PaymentService 支付编排服务
// 校验订单可支付性，按支付方式分发到网关或余额账本，驱动支付状态机，
// 并承载查询与对账面。
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	orderRepo   repository.OrderRepository
	userRepo    repository.UserRepository
	methodRepo  repository.PaymentMethodRepository
	ledger      *BalanceLedgerService
	gateways    *payment.Registry
	queueClient *queue.Client
	cfg         *config.PaymentConfig
}

// NewPaymentService 创建支付服务
func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	orderRepo repository.OrderRepository,
	userRepo repository.UserRepository,
	methodRepo repository.PaymentMethodRepository,
	ledger *BalanceLedgerService,
	gateways *payment.Registry,
	queueClient *queue.Client,
	cfg *config.PaymentConfig,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		userRepo:    userRepo,
		methodRepo:  methodRepo,
		ledger:      ledger,
		gateways:    gateways,
		queueClient: queueClient,
		cfg:         cfg,
	}
}

// CreatePaymentInput 创建支付输入
type CreatePaymentInput struct {
	UserID      uint
	OrderID     uint
	Method      string
	Amount      models.Money // 可选，传入时必须与订单应付一致
	PayPassword string       // 余额支付必填
	ClientIP    string
}

// PaymentDispatchResult 支付分发结果
type PaymentDispatchResult struct {
	Payment  *models.Payment `json:"payment"`
	PayURL   string          `json:"pay_url,omitempty"`
	QRCode   string          `json:"qr_code,omitempty"`
	PrepayID string          `json:"prepay_id,omitempty"`
}

// CreatePayment 创建支付单并分发
// 同一订单同一时间只允许一条非终态支付；网关方式创建后保持 pending 等待回调，
// 余额方式同步完成 预留→确认→捕获。
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentDispatchResult, error) {
	method := strings.ToLower(strings.TrimSpace(input.Method))
	if err := s.ensureMethodEnabled(method); err != nil {
		return nil, err
	}

	var created *models.Payment
	var order *models.Order
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		locked, err := orderRepo.GetByIDForUpdate(input.OrderID)
		if err != nil {
			return err
		}
		if err := validatePayableOrder(locked, input.UserID); err != nil {
			return err
		}
		order = locked
		if !input.Amount.IsZero() && !input.Amount.Equal(order.TotalAmount) {
			return fmt.Errorf("%w: 订单应付 %s，请求 %s", ErrOrderAmountMismatch, order.TotalAmount.String(), input.Amount.String())
		}

		paymentRepo := s.paymentRepo.WithTx(tx)
		active, err := paymentRepo.GetActiveByOrderID(order.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: %s", ErrPaymentExists, active.PaymentNo)
		}

		now := time.Now()
		expiredAt := now.Add(time.Duration(s.expireMinutes()) * time.Minute)
		created = &models.Payment{
			PaymentNo:       GeneratePaymentNo(),
			OrderID:         order.ID,
			UserID:          order.UserID,
			Method:          method,
			InteractionMode: interactionModeFor(method),
			Amount:          order.TotalAmount,
			Currency:        s.currency(),
			Status:          constants.PaymentStatusPending,
			RefundAmount:    models.ZeroMoney(),
			RefundPending:   models.ZeroMoney(),
			ExpiredAt:       &expiredAt,
		}
		return paymentRepo.Create(created)
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("payment_create_success",
		"payment_no", created.PaymentNo,
		"order_id", created.OrderID,
		"user_id", created.UserID,
		"method", method,
		"amount", created.Amount.String(),
	)

	if created.ExpiredAt != nil {
		if err := s.queueClient.EnqueuePaymentExpire(
			queue.PaymentExpirePayload{PaymentNo: created.PaymentNo},
			time.Until(*created.ExpiredAt),
		); err != nil {
			logger.Warnw("payment_expire_enqueue_failed", "payment_no", created.PaymentNo, "error", err)
		}
	}

	if method == constants.PaymentMethodBalance {
		return s.payWithBalance(created, order, input.PayPassword)
	}
	return s.dispatchToGateway(ctx, created, order, input.ClientIP)
}

// Dispatch 重新分发处于 pending 的网关支付
// 网关下单失败的重试路径：重试走重分发，永不重建支付单。
func (s *PaymentService) Dispatch(ctx context.Context, userID uint, paymentNo, method, clientIP string) (*PaymentDispatchResult, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	record, err := s.paymentRepo.GetByPaymentNo(paymentNo)
	if err != nil {
		return nil, err
	}
	if record == nil || (userID != 0 && record.UserID != userID) {
		return nil, ErrPaymentNotFound
	}
	if record.Method != method {
		return nil, fmt.Errorf("%w: 支付单方式为 %s", ErrInvalidInput, record.Method)
	}
	if record.Status != constants.PaymentStatusPending {
		return nil, transitionError(record, "dispatch")
	}
	order, err := s.orderRepo.GetByID(record.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return s.dispatchToGateway(ctx, record, order, clientIP)
}

// dispatchToGateway 调用网关下单并持久化分发产物
// 网关不可用时支付单保持 pending（无网关引用），等待重分发。
func (s *PaymentService) dispatchToGateway(ctx context.Context, record *models.Payment, order *models.Order, clientIP string) (*PaymentDispatchResult, error) {
	gw, ok := s.gateways.Get(record.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, record.Method)
	}
	result, err := gw.Initiate(ctx, payment.InitiateInput{
		PaymentNo: record.PaymentNo,
		Amount:    record.Amount.String(),
		Currency:  record.Currency,
		Subject:   buildPaymentSubject(order),
		ClientIP:  clientIP,
		ExpireAt:  record.ExpiredAt,
		Attach:    record.PaymentNo,
	})
	if err != nil {
		if errors.Is(err, payment.ErrUnavailable) {
			logger.Warnw("payment_dispatch_gateway_unavailable",
				"payment_no", record.PaymentNo,
				"method", record.Method,
				"error", err,
			)
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		logger.Errorw("payment_dispatch_gateway_rejected",
			"payment_no", record.PaymentNo,
			"method", record.Method,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	// 网关下单耗时可达数秒，期间回调可能已确认支付；
	// 分发产物必须在行锁下复核 pending 后落库，绝不回写过期快照。
	var persisted *models.Payment
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		fresh, err := repo.GetByPaymentNoForUpdate(record.PaymentNo)
		if err != nil {
			return err
		}
		if fresh == nil {
			return ErrPaymentNotFound
		}
		persisted = fresh
		if fresh.Status != constants.PaymentStatusPending {
			return nil
		}
		fresh.PayURL = result.PayURL
		fresh.QRCode = result.QRCode
		fresh.PrepayID = result.PrepayID
		fresh.GatewayRef = result.GatewayRef
		return repo.Update(fresh)
	})
	if err != nil {
		return nil, err
	}
	if persisted.Status != constants.PaymentStatusPending {
		logger.Warnw("payment_dispatch_superseded",
			"payment_no", persisted.PaymentNo,
			"status", persisted.Status,
		)
		return &PaymentDispatchResult{Payment: persisted}, nil
	}
	logger.Infow("payment_dispatch_success",
		"payment_no", persisted.PaymentNo,
		"method", persisted.Method,
		"gateway_ref", persisted.GatewayRef,
	)
	return &PaymentDispatchResult{
		Payment:  persisted,
		PayURL:   result.PayURL,
		QRCode:   result.QRCode,
		PrepayID: result.PrepayID,
	}, nil
}

// payWithBalance 余额支付：校验支付密码后同步完成 预留→确认→捕获
// 余额不足时支付单转入 failed 并向上抛错。
func (s *PaymentService) payWithBalance(record *models.Payment, order *models.Order, payPassword string) (*PaymentDispatchResult, error) {
	user, err := s.userRepo.GetByID(record.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if err := CheckPayPassword(user, payPassword); err != nil {
		return nil, err
	}

	handle, err := s.ledger.Reserve(LedgerEntryInput{
		UserID:      record.UserID,
		Amount:      record.Amount,
		Reference:   record.PaymentNo,
		RelatedType: constants.BalanceRelatedTypePayment,
		RelatedID:   record.ID,
		Remark:      buildPaymentSubject(order),
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			if ferr := s.markPaymentFailed(record.PaymentNo, "余额不足"); ferr != nil {
				logger.Errorw("payment_balance_fail_mark_failed", "payment_no", record.PaymentNo, "error", ferr)
			}
		}
		return nil, err
	}

	transactionID := fmt.Sprintf("balance:%s", record.PaymentNo)
	confirmed, err := s.confirmPayment(record.PaymentNo, transactionID, record.Amount, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Capture(handle); err != nil {
		logger.Errorw("payment_balance_capture_failed",
			"payment_no", record.PaymentNo,
			"user_id", record.UserID,
			"error", err,
		)
		return nil, err
	}

	logger.Infow("payment_balance_paid",
		"payment_no", record.PaymentNo,
		"user_id", record.UserID,
		"amount", record.Amount.String(),
	)
	s.notifyOrderPaid(confirmed)
	return &PaymentDispatchResult{Payment: confirmed}, nil
}

// CancelPayment 取消 pending 支付
// 余额方式同时释放预留（如有）；取消结果异步同步到订单侧。
func (s *PaymentService) CancelPayment(userID uint, paymentID uint) (*models.Payment, error) {
	var canceled *models.Payment
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		record, err := repo.GetByIDForUpdate(paymentID)
		if err != nil {
			return err
		}
		if record == nil || (userID != 0 && record.UserID != userID) {
			return ErrPaymentNotFound
		}
		if err := applyCancel(record, time.Now()); err != nil {
			return err
		}
		canceled = record
		return repo.Update(record)
	})
	if err != nil {
		return nil, err
	}
	s.releaseBalanceReservation(canceled)
	s.notifyOrderClosed(canceled, "payment_canceled")
	logger.Infow("payment_cancel_success", "payment_no", canceled.PaymentNo, "user_id", canceled.UserID)
	return canceled, nil
}

// ExpirePayment 到期取消（队列任务入口）
// 未到期或已出终态为无操作。
func (s *PaymentService) ExpirePayment(paymentNo string) error {
	var expired *models.Payment
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		record, err := repo.GetByPaymentNoForUpdate(paymentNo)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrPaymentNotFound
		}
		if record.Status != constants.PaymentStatusPending {
			return nil
		}
		if record.ExpiredAt == nil || time.Now().Before(*record.ExpiredAt) {
			return nil
		}
		if err := applyCancel(record, time.Now()); err != nil {
			return err
		}
		expired = record
		return repo.Update(record)
	})
	if err != nil {
		return err
	}
	if expired == nil {
		return nil
	}
	s.releaseBalanceReservation(expired)
	s.notifyOrderClosed(expired, "payment_expired")
	logger.Infow("payment_expired_canceled", "payment_no", expired.PaymentNo)
	return nil
}

// confirmPayment 行锁内确认支付，返回确认后的记录
// 返回 (record, nil) 且未变更时表示重复确认（幂等无操作）。
func (s *PaymentService) confirmPayment(paymentNo, transactionID string, paidAmount models.Money, notifiedAt time.Time) (*models.Payment, error) {
	var confirmed *models.Payment
	var changed bool
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		record, err := repo.GetByPaymentNoForUpdate(paymentNo)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrPaymentNotFound
		}
		changed, err = applyConfirm(record, transactionID, paidAmount, time.Now())
		if err != nil {
			return err
		}
		notified := notifiedAt
		record.NotifiedAt = &notified
		confirmed = record
		return repo.Update(record)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		logger.Infow("payment_confirm_duplicate", "payment_no", paymentNo, "transaction_id", transactionID)
	}
	return confirmed, nil
}

// markPaymentFailed 行锁内将 pending 支付置为 failed
func (s *PaymentService) markPaymentFailed(paymentNo, reason string) error {
	return models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.paymentRepo.WithTx(tx)
		record, err := repo.GetByPaymentNoForUpdate(paymentNo)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrPaymentNotFound
		}
		if err := applyFail(record, reason, time.Now()); err != nil {
			return err
		}
		return repo.Update(record)
	})
}

// releaseBalanceReservation 释放余额预留（仅余额方式，预留不存在时忽略）
func (s *PaymentService) releaseBalanceReservation(record *models.Payment) {
	if record == nil || record.Method != constants.PaymentMethodBalance {
		return
	}
	handle, err := s.ledger.ReservationHandle(record.UserID, record.PaymentNo)
	if err != nil {
		if !errors.Is(err, ErrBalanceReservationMissing) {
			logger.Errorw("balance_reservation_lookup_failed", "payment_no", record.PaymentNo, "error", err)
		}
		return
	}
	if err := s.ledger.Release(handle); err != nil && !errors.Is(err, ErrBalanceReservationSettled) {
		logger.Errorw("balance_reservation_release_failed", "payment_no", record.PaymentNo, "error", err)
	}
}

// notifyOrderPaid 支付成功结果异步传播到订单侧
func (s *PaymentService) notifyOrderPaid(record *models.Payment) {
	if record == nil {
		return
	}
	if err := s.queueClient.EnqueueOrderPaymentPaid(queue.OrderPaymentPaidPayload{
		OrderID:   record.OrderID,
		PaymentNo: record.PaymentNo,
	}); err != nil {
		logger.Errorw("order_paid_enqueue_failed", "payment_no", record.PaymentNo, "error", err)
	}
}

// notifyOrderClosed 支付关闭结果异步传播到订单侧
func (s *PaymentService) notifyOrderClosed(record *models.Payment, reason string) {
	if record == nil {
		return
	}
	if err := s.queueClient.EnqueueOrderPaymentClosed(queue.OrderPaymentClosedPayload{
		OrderID:   record.OrderID,
		PaymentNo: record.PaymentNo,
		Reason:    reason,
	}); err != nil {
		logger.Errorw("order_closed_enqueue_failed", "payment_no", record.PaymentNo, "error", err)
	}
}

// ensureMethodEnabled 校验支付方式合法且已启用
func (s *PaymentService) ensureMethodEnabled(method string) error {
	switch method {
	case constants.PaymentMethodWechat, constants.PaymentMethodAlipay, constants.PaymentMethodBalance:
	default:
		return fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, method)
	}
	setting, err := s.methodRepo.GetByCode(method)
	if err != nil {
		return err
	}
	if setting == nil || !setting.IsActive {
		return fmt.Errorf("%w: %s", ErrPaymentMethodDisabled, method)
	}
	return nil
}

// validatePayableOrder 校验订单归属与可支付性
func validatePayableOrder(order *models.Order, userID uint) error {
	if order == nil {
		return ErrOrderNotFound
	}
	if userID != 0 && order.UserID != userID {
		return ErrOrderNotFound
	}
	if order.Status != constants.OrderStatusPendingPayment {
		return fmt.Errorf("%w: 订单状态 %s", ErrOrderNotPayable, order.Status)
	}
	if order.ExpiresAt != nil && time.Now().After(*order.ExpiresAt) {
		return fmt.Errorf("%w: 订单已过支付截止时间", ErrOrderNotPayable)
	}
	return nil
}

// buildPaymentSubject 构造网关展示的订单主题
func buildPaymentSubject(order *models.Order) string {
	store := strings.TrimSpace(order.StoreName)
	if store == "" {
		store = "点餐"
	}
	return fmt.Sprintf("%s-订单%s", store, order.OrderNo)
}

// interactionModeFor 支付方式对应的交互方式
func interactionModeFor(method string) string {
	switch method {
	case constants.PaymentMethodWechat:
		return constants.PaymentInteractionQR
	case constants.PaymentMethodAlipay:
		return constants.PaymentInteractionRedirect
	default:
		return constants.PaymentInteractionBalance
	}
}

func (s *PaymentService) currency() string {
	if s.cfg != nil && strings.TrimSpace(s.cfg.Currency) != "" {
		return strings.ToUpper(strings.TrimSpace(s.cfg.Currency))
	}
	return constants.DefaultCurrency
}

func (s *PaymentService) expireMinutes() int {
	if s.cfg != nil && s.cfg.ExpireMinutes > 0 {
		return s.cfg.ExpireMinutes
	}
	return 15
}
