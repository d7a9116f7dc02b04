package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/diancan-pay/internal/config"
	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/payment"
	"github.com/diancan-pay/internal/queue"
	"github.com/diancan-pay/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// fakeGateway 可编程的网关桩，按字段配置各操作的返回
type fakeGateway struct {
	method string

	initiateResult *payment.InitiateResult
	initiateErr    error
	initiateHook   func() // 下单进行中触发，模拟慢网关期间发生的并发事件

	notification    *payment.Notification
	notificationErr error

	status     *payment.StatusResult
	statusErr  error
	statusCall int

	refundResult *payment.RefundResult
	refundErr    error

	refundStatus    *payment.RefundStatusResult
	refundStatusErr error
}

func (g *fakeGateway) Method() string { return g.method }

func (g *fakeGateway) Initiate(ctx context.Context, input payment.InitiateInput) (*payment.InitiateResult, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	if g.initiateHook != nil {
		g.initiateHook()
	}
	if g.initiateResult != nil {
		return g.initiateResult, nil
	}
	return &payment.InitiateResult{
		QRCode:     "weixin://wxpay/test",
		GatewayRef: "gwref_" + input.PaymentNo,
	}, nil
}

func (g *fakeGateway) ParseNotification(ctx context.Context, raw payment.RawNotification) (*payment.Notification, error) {
	if g.notificationErr != nil {
		return nil, g.notificationErr
	}
	return g.notification, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, paymentNo string) (*payment.StatusResult, error) {
	g.statusCall++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if g.status != nil {
		return g.status, nil
	}
	return &payment.StatusResult{Outcome: constants.GatewayOutcomeUnknown}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, input payment.RefundInput) (*payment.RefundResult, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refundResult != nil {
		return g.refundResult, nil
	}
	return &payment.RefundResult{RefundRef: "gwrefund_" + input.RefundNo, Accepted: true}, nil
}

func (g *fakeGateway) QueryRefund(ctx context.Context, paymentNo, refundNo string) (*payment.RefundStatusResult, error) {
	if g.refundStatusErr != nil {
		return nil, g.refundStatusErr
	}
	if g.refundStatus != nil {
		return g.refundStatus, nil
	}
	return &payment.RefundStatusResult{Outcome: constants.GatewayOutcomePending}, nil
}

type paymentTestEnv struct {
	db      *gorm.DB
	svc     *PaymentService
	ledger  *BalanceLedgerService
	wechat  *fakeGateway
	alipay  *fakeGateway
}

func setupPaymentTest(t *testing.T) *paymentTestEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:payment_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Payment{},
		&models.UserBalance{},
		&models.BalanceTransaction{},
		&models.PaymentMethodSetting{},
	); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	models.DB = db
	if err := models.InitDefaultPaymentMethods(); err != nil {
		t.Fatalf("初始化支付方式失败: %v", err)
	}

	queueClient, err := queue.NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("创建队列客户端失败: %v", err)
	}

	wechat := &fakeGateway{method: constants.PaymentMethodWechat}
	alipay := &fakeGateway{method: constants.PaymentMethodAlipay}
	registry := payment.NewRegistry()
	registry.Register(wechat)
	registry.Register(alipay)

	ledger := NewBalanceLedgerService(repository.NewBalanceRepository(db))
	svc := NewPaymentService(
		repository.NewPaymentRepository(db),
		repository.NewOrderRepository(db),
		repository.NewUserRepository(db),
		repository.NewPaymentMethodRepository(db),
		ledger,
		registry,
		queueClient,
		&config.PaymentConfig{ExpireMinutes: 15, StatusRefreshSeconds: 1},
	)

	return &paymentTestEnv{db: db, svc: svc, ledger: ledger, wechat: wechat, alipay: alipay}
}

func createTestUser(t *testing.T, db *gorm.DB, phone string) *models.User {
	t.Helper()
	hash, err := HashPassword("123456")
	if err != nil {
		t.Fatalf("生成密码哈希失败: %v", err)
	}
	user := &models.User{
		Phone:           phone,
		PasswordHash:    hash,
		PayPasswordHash: hash,
		DisplayName:     "测试用户",
		Status:          constants.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("创建测试用户失败: %v", err)
	}
	return user
}

func createTestOrder(t *testing.T, db *gorm.DB, userID uint, amount string) *models.Order {
	t.Helper()
	expiresAt := time.Now().Add(30 * time.Minute)
	order := &models.Order{
		OrderNo:     fmt.Sprintf("T%d", time.Now().UnixNano()),
		UserID:      userID,
		StoreName:   "望江楼餐厅",
		Status:      constants.OrderStatusPendingPayment,
		Currency:    constants.DefaultCurrency,
		TotalAmount: money(t, amount),
		ExpiresAt:   &expiresAt,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("创建测试订单失败: %v", err)
	}
	return order
}

func reloadPayment(t *testing.T, db *gorm.DB, id uint) *models.Payment {
	t.Helper()
	var record models.Payment
	if err := db.First(&record, id).Error; err != nil {
		t.Fatalf("读取支付记录失败: %v", err)
	}
	return &record
}

func TestCreatePaymentWithBalance(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000001")
	rechargeForTest(t, env.ledger, user.ID, "100.00")
	order := createTestOrder(t, env.db, user.ID, "40.00")

	result, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:      user.ID,
		OrderID:     order.ID,
		Method:      constants.PaymentMethodBalance,
		PayPassword: "123456",
	})
	if err != nil {
		t.Fatalf("余额支付失败: %v", err)
	}
	if result.Payment.Status != constants.PaymentStatusPaid {
		t.Fatalf("余额支付后应为 paid, got %s", result.Payment.Status)
	}
	wantTxn := fmt.Sprintf("balance:%s", result.Payment.PaymentNo)
	if result.Payment.TransactionID != wantTxn {
		t.Fatalf("余额支付流水号异常: got %s, want %s", result.Payment.TransactionID, wantTxn)
	}

	account, _ := env.ledger.GetAccount(user.ID)
	assertMoney(t, "支付后可用余额", account.Balance, money(t, "60.00"))
	assertMoney(t, "支付后冻结余额", account.FrozenBalance, money(t, "0.00"))
	assertMoney(t, "支付后累计消费", account.TotalConsume, money(t, "40.00"))
}

func TestCreatePaymentBalanceInsufficient(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000002")
	rechargeForTest(t, env.ledger, user.ID, "10.00")
	order := createTestOrder(t, env.db, user.ID, "40.00")

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:      user.ID,
		OrderID:     order.ID,
		Method:      constants.PaymentMethodBalance,
		PayPassword: "123456",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("期望 ErrInsufficientBalance, got %v", err)
	}

	// 支付单应转入 failed
	var record models.Payment
	if err := env.db.Where("order_id = ?", order.ID).First(&record).Error; err != nil {
		t.Fatalf("读取支付记录失败: %v", err)
	}
	if record.Status != constants.PaymentStatusFailed {
		t.Fatalf("余额不足后支付单应为 failed, got %s", record.Status)
	}

	account, _ := env.ledger.GetAccount(user.ID)
	assertMoney(t, "失败后可用余额", account.Balance, money(t, "10.00"))
}

func TestCreatePaymentWrongPayPassword(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000003")
	rechargeForTest(t, env.ledger, user.ID, "100.00")
	order := createTestOrder(t, env.db, user.ID, "40.00")

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:      user.ID,
		OrderID:     order.ID,
		Method:      constants.PaymentMethodBalance,
		PayPassword: "654321",
	})
	if !errors.Is(err, ErrPayPasswordIncorrect) {
		t.Fatalf("期望 ErrPayPasswordIncorrect, got %v", err)
	}

	account, _ := env.ledger.GetAccount(user.ID)
	assertMoney(t, "密码错误后可用余额", account.Balance, money(t, "100.00"))
	assertMoney(t, "密码错误后冻结余额", account.FrozenBalance, money(t, "0.00"))
}

func TestCreatePaymentGatewayDispatch(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000004")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	result, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:   user.ID,
		OrderID:  order.ID,
		Method:   constants.PaymentMethodWechat,
		ClientIP: "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("网关支付创建失败: %v", err)
	}
	if result.Payment.Status != constants.PaymentStatusPending {
		t.Fatalf("网关支付创建后应保持 pending, got %s", result.Payment.Status)
	}
	if result.QRCode == "" {
		t.Fatal("微信支付应返回二维码内容")
	}
	if result.Payment.InteractionMode != constants.PaymentInteractionQR {
		t.Fatalf("微信支付交互方式应为 qr, got %s", result.Payment.InteractionMode)
	}

	persisted := reloadPayment(t, env.db, result.Payment.ID)
	if persisted.GatewayRef == "" || persisted.QRCode == "" {
		t.Fatalf("分发产物应持久化: gateway_ref=%q qr=%q", persisted.GatewayRef, persisted.QRCode)
	}
}

func TestCreatePaymentGatewayUnavailableThenRedispatch(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000005")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	env.alipay.initiateErr = payment.ErrUnavailable
	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodAlipay,
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("期望 ErrGatewayUnavailable, got %v", err)
	}

	// 支付单保持 pending，无网关引用
	var record models.Payment
	if err := env.db.Where("order_id = ?", order.ID).First(&record).Error; err != nil {
		t.Fatalf("读取支付记录失败: %v", err)
	}
	if record.Status != constants.PaymentStatusPending || record.GatewayRef != "" {
		t.Fatalf("网关不可用后应保持 pending 且无引用: status=%s ref=%q", record.Status, record.GatewayRef)
	}

	// 网关恢复后重分发同一支付单
	env.alipay.initiateErr = nil
	env.alipay.initiateResult = &payment.InitiateResult{
		PayURL:     "https://openapi.alipay.com/gateway.do?x=1",
		GatewayRef: "alipay_ref_001",
	}
	result, err := env.svc.Dispatch(context.Background(), user.ID, record.PaymentNo, constants.PaymentMethodAlipay, "")
	if err != nil {
		t.Fatalf("重分发失败: %v", err)
	}
	if result.PayURL == "" {
		t.Fatal("支付宝重分发应返回跳转链接")
	}
	if result.Payment.PaymentNo != record.PaymentNo {
		t.Fatal("重分发不得重建支付单")
	}
}

func TestDispatchKeepsConcurrentConfirm(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000015")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	// 首次分发网关不可用，留下无网关引用的 pending 支付单
	env.wechat.initiateErr = payment.ErrUnavailable
	if _, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodWechat,
	}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("期望 ErrGatewayUnavailable, got %v", err)
	}
	var record models.Payment
	if err := env.db.Where("order_id = ?", order.ID).First(&record).Error; err != nil {
		t.Fatalf("读取支付记录失败: %v", err)
	}

	// 重分发下单进行中用户扫了首个二维码：回调先行确认支付
	env.wechat.initiateErr = nil
	env.wechat.initiateHook = func() {
		env.wechat.notification = &payment.Notification{
			PaymentNo:      record.PaymentNo,
			TransactionID:  "wx_txn_race_001",
			Outcome:        constants.GatewayOutcomeSuccess,
			Amount:         "58.00",
			SignatureValid: true,
		}
		if _, err := env.svc.HandleNotify(context.Background(), constants.PaymentMethodWechat, payment.RawNotification{}); err != nil {
			t.Errorf("下单期间回调处理失败: %v", err)
		}
	}
	result, err := env.svc.Dispatch(context.Background(), user.ID, record.PaymentNo, constants.PaymentMethodWechat, "")
	if err != nil {
		t.Fatalf("重分发失败: %v", err)
	}

	// 已确认的支付不得被分发产物回写覆盖
	got := reloadPayment(t, env.db, record.ID)
	if got.Status != constants.PaymentStatusPaid {
		t.Fatalf("分发不得覆盖并发确认, got %s", got.Status)
	}
	if got.TransactionID != "wx_txn_race_001" {
		t.Fatalf("网关流水号不得被清除, got %q", got.TransactionID)
	}
	if got.GatewayRef != "" {
		t.Fatalf("确认后不应再写入分发产物, got %q", got.GatewayRef)
	}
	if result.Payment.Status != constants.PaymentStatusPaid {
		t.Fatalf("分发结果应反映最新状态, got %s", result.Payment.Status)
	}
	if result.QRCode != "" || result.PayURL != "" {
		t.Fatal("已确认支付不应返回新的支付凭据")
	}
}

func TestCreatePaymentDuplicateActive(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000006")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	if _, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodWechat,
	}); err != nil {
		t.Fatalf("首次创建失败: %v", err)
	}

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodAlipay,
	})
	if !errors.Is(err, ErrPaymentExists) {
		t.Fatalf("期望 ErrPaymentExists, got %v", err)
	}
}

func TestCreatePaymentAmountMismatch(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000007")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodWechat,
		Amount:  money(t, "57.00"),
	})
	if !errors.Is(err, ErrOrderAmountMismatch) {
		t.Fatalf("期望 ErrOrderAmountMismatch, got %v", err)
	}
}

func TestCreatePaymentMethodChecks(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000008")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  "paypal",
	})
	if !errors.Is(err, ErrPaymentMethodUnknown) {
		t.Fatalf("期望 ErrPaymentMethodUnknown, got %v", err)
	}

	if err := env.db.Model(&models.PaymentMethodSetting{}).
		Where("code = ?", constants.PaymentMethodWechat).
		Update("is_active", false).Error; err != nil {
		t.Fatalf("停用支付方式失败: %v", err)
	}
	_, err = env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodWechat,
	})
	if !errors.Is(err, ErrPaymentMethodDisabled) {
		t.Fatalf("期望 ErrPaymentMethodDisabled, got %v", err)
	}
}

func TestCreatePaymentOrderChecks(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000009")
	other := createTestUser(t, env.db, "13800000010")

	// 他人订单不可支付
	order := createTestOrder(t, env.db, other.ID, "58.00")
	_, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodWechat,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("他人订单应返回 ErrOrderNotFound, got %v", err)
	}

	// 已支付订单不可再发起
	paidOrder := createTestOrder(t, env.db, user.ID, "58.00")
	if err := env.db.Model(&models.Order{}).Where("id = ?", paidOrder.ID).
		Update("status", constants.OrderStatusPaid).Error; err != nil {
		t.Fatalf("更新订单状态失败: %v", err)
	}
	_, err = env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: paidOrder.ID,
		Method:  constants.PaymentMethodWechat,
	})
	if !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("已支付订单应返回 ErrOrderNotPayable, got %v", err)
	}

	// 过期订单不可支付
	expired := createTestOrder(t, env.db, user.ID, "58.00")
	past := time.Now().Add(-time.Minute)
	if err := env.db.Model(&models.Order{}).Where("id = ?", expired.ID).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("更新订单截止时间失败: %v", err)
	}
	_, err = env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: expired.ID,
		Method:  constants.PaymentMethodWechat,
	})
	if !errors.Is(err, ErrOrderNotPayable) {
		t.Fatalf("过期订单应返回 ErrOrderNotPayable, got %v", err)
	}
}

func TestCancelPaymentReleasesReservation(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000011")
	rechargeForTest(t, env.ledger, user.ID, "100.00")

	// 构造带在途预留的 pending 余额支付（确认前进程中断的场景）
	record := &models.Payment{
		PaymentNo:       GeneratePaymentNo(),
		OrderID:         1,
		UserID:          user.ID,
		Method:          constants.PaymentMethodBalance,
		InteractionMode: constants.PaymentInteractionBalance,
		Amount:          money(t, "40.00"),
		Currency:        constants.DefaultCurrency,
		Status:          constants.PaymentStatusPending,
	}
	if err := env.db.Create(record).Error; err != nil {
		t.Fatalf("创建支付记录失败: %v", err)
	}
	if _, err := env.ledger.Reserve(LedgerEntryInput{
		UserID:      user.ID,
		Amount:      record.Amount,
		Reference:   record.PaymentNo,
		RelatedType: constants.BalanceRelatedTypePayment,
		RelatedID:   record.ID,
	}); err != nil {
		t.Fatalf("预留失败: %v", err)
	}

	canceled, err := env.svc.CancelPayment(user.ID, record.ID)
	if err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	if canceled.Status != constants.PaymentStatusCanceled {
		t.Fatalf("取消后应为 cancelled, got %s", canceled.Status)
	}

	account, _ := env.ledger.GetAccount(user.ID)
	assertMoney(t, "取消后可用余额", account.Balance, money(t, "100.00"))
	assertMoney(t, "取消后冻结余额", account.FrozenBalance, money(t, "0.00"))
}

func TestCancelPaidPayment(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000012")
	rechargeForTest(t, env.ledger, user.ID, "100.00")
	order := createTestOrder(t, env.db, user.ID, "40.00")

	result, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:      user.ID,
		OrderID:     order.ID,
		Method:      constants.PaymentMethodBalance,
		PayPassword: "123456",
	})
	if err != nil {
		t.Fatalf("余额支付失败: %v", err)
	}

	_, err = env.svc.CancelPayment(user.ID, result.Payment.ID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("paid 取消应返回 ErrInvalidStateTransition, got %v", err)
	}
}

func TestExpirePayment(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13800000013")
	order := createTestOrder(t, env.db, user.ID, "58.00")

	result, err := env.svc.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:  user.ID,
		OrderID: order.ID,
		Method:  constants.PaymentMethodWechat,
	})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	// 未到期为无操作
	if err := env.svc.ExpirePayment(result.Payment.PaymentNo); err != nil {
		t.Fatalf("未到期处理失败: %v", err)
	}
	if got := reloadPayment(t, env.db, result.Payment.ID); got.Status != constants.PaymentStatusPending {
		t.Fatalf("未到期不得变更状态, got %s", got.Status)
	}

	// 回拨过期时间后执行到期取消
	past := time.Now().Add(-time.Minute)
	if err := env.db.Model(&models.Payment{}).Where("id = ?", result.Payment.ID).
		Update("expired_at", past).Error; err != nil {
		t.Fatalf("更新过期时间失败: %v", err)
	}
	if err := env.svc.ExpirePayment(result.Payment.PaymentNo); err != nil {
		t.Fatalf("到期取消失败: %v", err)
	}
	if got := reloadPayment(t, env.db, result.Payment.ID); got.Status != constants.PaymentStatusCanceled {
		t.Fatalf("到期后应为 cancelled, got %s", got.Status)
	}

	// 终态重复执行为无操作
	if err := env.svc.ExpirePayment(result.Payment.PaymentNo); err != nil {
		t.Fatalf("终态重复到期处理应为无操作: %v", err)
	}
}

func TestGeneratePaymentNumbers(t *testing.T) {
	paymentNo := GeneratePaymentNo()
	refundNo := GenerateRefundNo()

	if len(paymentNo) != 1+14+numberRandDigits {
		t.Fatalf("支付单号长度异常: %s", paymentNo)
	}
	if paymentNo[0] != 'P' || refundNo[0] != 'R' {
		t.Fatalf("单号前缀异常: %s / %s", paymentNo, refundNo)
	}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		no := GeneratePaymentNo()
		if seen[no] {
			t.Fatalf("支付单号重复: %s", no)
		}
		seen[no] = true
	}
}
