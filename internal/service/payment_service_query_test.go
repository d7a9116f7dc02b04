package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/payment"
	"github.com/diancan-pay/internal/repository"
)

// backdatePayment 将支付记录创建时间回拨，触发滞留对账
func backdatePayment(t *testing.T, env *paymentTestEnv, id uint, age time.Duration) {
	t.Helper()
	if err := env.db.Model(&models.Payment{}).Where("id = ?", id).
		Update("created_at", time.Now().Add(-age)).Error; err != nil {
		t.Fatalf("回拨创建时间失败: %v", err)
	}
}

func TestGetPaymentStatusReconcilesStaleSuccess(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000001")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")
	backdatePayment(t, env, record.ID, 2*time.Minute)

	env.wechat.status = &payment.StatusResult{
		Outcome:       constants.GatewayOutcomeSuccess,
		TransactionID: "wx_txn_recon_001",
		Amount:        "58.00",
	}
	got, err := env.svc.GetPaymentStatus(context.Background(), user.ID, record.ID)
	if err != nil {
		t.Fatalf("GetPaymentStatus 失败: %v", err)
	}
	if got.Status != constants.PaymentStatusPaid {
		t.Fatalf("网关已成功的滞留支付应对账为 paid, got %s", got.Status)
	}
	if got.TransactionID != "wx_txn_recon_001" {
		t.Fatalf("对账应写入网关流水号, got %s", got.TransactionID)
	}
	if env.wechat.statusCall == 0 {
		t.Fatal("应触发网关状态查询")
	}
}

func TestGetPaymentStatusReconcilesStaleFailure(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000002")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")
	backdatePayment(t, env, record.ID, 2*time.Minute)

	env.wechat.status = &payment.StatusResult{Outcome: constants.GatewayOutcomeFailure}
	got, err := env.svc.GetPaymentStatus(context.Background(), user.ID, record.ID)
	if err != nil {
		t.Fatalf("GetPaymentStatus 失败: %v", err)
	}
	if got.Status != constants.PaymentStatusFailed {
		t.Fatalf("网关已关闭的滞留支付应对账为 failed, got %s", got.Status)
	}
}

func TestGetPaymentStatusUnknownKeepsPending(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000003")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")
	backdatePayment(t, env, record.ID, 2*time.Minute)

	// unknown 永不推断成功
	env.wechat.status = &payment.StatusResult{Outcome: constants.GatewayOutcomeUnknown}
	got, err := env.svc.GetPaymentStatus(context.Background(), user.ID, record.ID)
	if err != nil {
		t.Fatalf("GetPaymentStatus 失败: %v", err)
	}
	if got.Status != constants.PaymentStatusPending {
		t.Fatalf("unknown 不得变更本地状态, got %s", got.Status)
	}
}

func TestGetPaymentStatusGatewayErrorTolerated(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000004")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")
	backdatePayment(t, env, record.ID, 2*time.Minute)

	env.wechat.statusErr = payment.ErrUnavailable
	got, err := env.svc.GetPaymentStatus(context.Background(), user.ID, record.ID)
	if err != nil {
		t.Fatalf("网关查询失败时应回退本地状态: %v", err)
	}
	if got.Status != constants.PaymentStatusPending {
		t.Fatalf("网关查询失败不得变更状态, got %s", got.Status)
	}
}

func TestGetPaymentStatusFreshSkipsGateway(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000005")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")

	// 刚创建（cfg 阈值 1 秒内）不触发网关查询
	backdatePayment(t, env, record.ID, 0)
	if _, err := env.svc.GetPaymentStatus(context.Background(), user.ID, record.ID); err != nil {
		t.Fatalf("GetPaymentStatus 失败: %v", err)
	}
	if env.wechat.statusCall != 0 {
		t.Fatal("未超阈值不应触发网关查询")
	}
}

func TestGetPaymentStatusOwnership(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000006")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")

	if _, err := env.svc.GetPaymentStatus(context.Background(), user.ID+1, record.ID); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("跨用户查询应返回 ErrPaymentNotFound, got %v", err)
	}
	if _, err := env.svc.GetPaymentStatus(context.Background(), user.ID, record.ID+100); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("不存在的支付单应返回 ErrPaymentNotFound, got %v", err)
	}
}

func TestListHistoryScopedToUser(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000007")
	other := createTestUser(t, env.db, "13830000008")
	createPendingGatewayPayment(t, env, user.ID, "58.00")
	createPendingGatewayPayment(t, env, user.ID, "40.00")
	createPendingGatewayPayment(t, env, other.ID, "20.00")

	records, total, err := env.svc.ListHistory(user.ID, repository.PaymentListFilter{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListHistory 失败: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("应只返回本人记录: total=%d len=%d", total, len(records))
	}
	for _, record := range records {
		if record.UserID != user.ID {
			t.Fatalf("历史记录越权: user_id=%d", record.UserID)
		}
	}

	// 过滤条件不可突破归属
	records, total, err = env.svc.ListHistory(user.ID, repository.PaymentListFilter{Page: 1, PageSize: 10, UserID: other.ID})
	if err != nil {
		t.Fatalf("ListHistory 失败: %v", err)
	}
	if total != 2 {
		t.Fatalf("过滤条件不得突破归属: total=%d", total)
	}

	if _, _, err := env.svc.ListHistory(0, repository.PaymentListFilter{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("匿名查询应返回 ErrUserNotFound, got %v", err)
	}
}

func TestListHistoryStatusFilter(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000009")
	rechargeForTest(t, env.ledger, user.ID, "100.00")
	createPaidBalancePayment(t, env, user, "40.00")
	createPendingGatewayPayment(t, env, user.ID, "58.00")

	records, total, err := env.svc.ListHistory(user.ID, repository.PaymentListFilter{
		Page: 1, PageSize: 10, Status: constants.PaymentStatusPaid,
	})
	if err != nil {
		t.Fatalf("ListHistory 失败: %v", err)
	}
	if total != 1 || records[0].Status != constants.PaymentStatusPaid {
		t.Fatalf("状态过滤异常: total=%d", total)
	}
}

func TestGetBills(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000010")
	rechargeForTest(t, env.ledger, user.ID, "200.00")
	createPaidBalancePayment(t, env, user, "40.00")
	record := createPaidBalancePayment(t, env, user, "58.00")

	// 其中一笔部分退款
	if _, err := env.svc.RefundPayment(context.Background(), RefundPaymentInput{
		UserID:    user.ID,
		PaymentID: record.ID,
		Amount:    money(t, "8.00"),
	}); err != nil {
		t.Fatalf("退款失败: %v", err)
	}

	from := time.Now().Add(-24 * time.Hour)
	to := time.Now().Add(24 * time.Hour)
	bills, err := env.svc.GetBills(user.ID, from, to)
	if err != nil {
		t.Fatalf("GetBills 失败: %v", err)
	}
	if len(bills) != 1 {
		t.Fatalf("同日账单应聚合为一行, got %d", len(bills))
	}
	bill := bills[0]
	if bill.PaidCount != 2 {
		t.Fatalf("已支付笔数异常: %d", bill.PaidCount)
	}
	assertMoney(t, "已支付金额", bill.PaidAmount, money(t, "98.00"))
	assertMoney(t, "退款金额", bill.RefundAmount, money(t, "8.00"))
	assertMoney(t, "净支出", bill.NetAmount, money(t, "90.00"))

	if _, err := env.svc.GetBills(0, from, to); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("匿名账单应返回 ErrUserNotFound, got %v", err)
	}
}

func TestListMethodsReturnsActiveOnly(t *testing.T) {
	env := setupPaymentTest(t)

	if err := env.db.Model(&models.PaymentMethodSetting{}).
		Where("code = ?", constants.PaymentMethodAlipay).
		Update("is_active", false).Error; err != nil {
		t.Fatalf("停用支付方式失败: %v", err)
	}

	views, err := env.svc.ListMethods(context.Background())
	if err != nil {
		t.Fatalf("ListMethods 失败: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("应只返回启用方式, got %d", len(views))
	}
	for _, view := range views {
		if view.Code == constants.PaymentMethodAlipay {
			t.Fatal("停用方式不应出现在列表中")
		}
	}
}

func TestGetPaymentByID(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13830000011")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")

	got, err := env.svc.GetPaymentByID(record.ID)
	if err != nil {
		t.Fatalf("GetPaymentByID 失败: %v", err)
	}
	if got.PaymentNo != record.PaymentNo {
		t.Fatalf("支付单号不匹配: %s", got.PaymentNo)
	}
	if _, err := env.svc.GetPaymentByID(record.ID + 100); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("不存在记录应返回 ErrPaymentNotFound, got %v", err)
	}
}
