package service

import (
	"context"
	"testing"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/payment"
)

func reconcileWindow() (time.Time, time.Time) {
	return time.Now().Add(-time.Hour), time.Now().Add(time.Hour)
}

func TestReconciliationGatewayPaidLocalPending(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000001")
	record := createPendingGatewayPayment(t, env, user.ID, "58.00")

	env.wechat.status = &payment.StatusResult{
		Outcome: constants.GatewayOutcomeSuccess,
		Amount:  "58.00",
	}
	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}

	if report.CheckedPending != 1 {
		t.Fatalf("应抽查 1 条 pending, got %d", report.CheckedPending)
	}
	if len(report.Discrepancies) != 1 {
		t.Fatalf("应报告 1 条差异, got %d", len(report.Discrepancies))
	}
	d := report.Discrepancies[0]
	if d.Kind != constants.ReconciliationKindGatewayPaidLocalPending || d.PaymentNo != record.PaymentNo {
		t.Fatalf("差异项异常: %+v", d)
	}

	// 报表路径只报告，不纠正
	if got := reloadPayment(t, env.db, record.ID); got.Status != constants.PaymentStatusPending {
		t.Fatalf("报表不得修改支付记录, got %s", got.Status)
	}

	// 聚合单元包含该笔 pending
	foundCell := false
	for _, cell := range report.Cells {
		if cell.Method == constants.PaymentMethodWechat && cell.Status == constants.PaymentStatusPending {
			foundCell = true
			if cell.Count != 1 {
				t.Fatalf("聚合笔数异常: %d", cell.Count)
			}
			assertMoney(t, "聚合金额", cell.TotalAmount, money(t, "58.00"))
		}
	}
	if !foundCell {
		t.Fatal("报表应包含 pending 聚合单元")
	}
}

func TestReconciliationGatewayUnknown(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000002")
	createPendingGatewayPayment(t, env, user.ID, "58.00")

	env.wechat.status = &payment.StatusResult{Outcome: constants.GatewayOutcomeUnknown}
	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].Kind != constants.ReconciliationKindGatewayUnknown {
		t.Fatalf("应报告 gateway_unknown 差异: %+v", report.Discrepancies)
	}
}

func TestReconciliationLocalPaidGatewayMissing(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000003")
	record := createPaidGatewayPayment(t, env, user.ID, "58.00")

	env.wechat.status = &payment.StatusResult{Outcome: constants.GatewayOutcomeFailure}
	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}
	if report.CheckedPaid != 1 {
		t.Fatalf("应抽查 1 条 paid, got %d", report.CheckedPaid)
	}
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].Kind != constants.ReconciliationKindLocalPaidGatewayMissing {
		t.Fatalf("应报告 local_paid_gateway_missing 差异: %+v", report.Discrepancies)
	}
	if got := reloadPayment(t, env.db, record.ID); got.Status != constants.PaymentStatusPaid {
		t.Fatalf("报表不得修改支付记录, got %s", got.Status)
	}
}

func TestReconciliationAmountMismatch(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000004")
	createPaidGatewayPayment(t, env, user.ID, "58.00")

	env.wechat.status = &payment.StatusResult{
		Outcome: constants.GatewayOutcomeSuccess,
		Amount:  "57.00",
	}
	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].Kind != constants.ReconciliationKindAmountMismatch {
		t.Fatalf("应报告 amount_mismatch 差异: %+v", report.Discrepancies)
	}
}

func TestReconciliationConsistentPaid(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000005")
	createPaidGatewayPayment(t, env, user.ID, "58.00")

	env.wechat.status = &payment.StatusResult{
		Outcome: constants.GatewayOutcomeSuccess,
		Amount:  "58.00",
	}
	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, "")
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}
	if len(report.Discrepancies) != 0 {
		t.Fatalf("两侧一致不应有差异: %+v", report.Discrepancies)
	}
}

func TestReconciliationBalanceMethodSkipsGateway(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000006")
	rechargeForTest(t, env.ledger, user.ID, "100.00")
	createPaidBalancePayment(t, env, user, "40.00")

	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, constants.PaymentMethodBalance)
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}
	if report.CheckedPending != 0 || report.CheckedPaid != 0 {
		t.Fatalf("余额方式不应触发网关核对: pending=%d paid=%d", report.CheckedPending, report.CheckedPaid)
	}
	if env.wechat.statusCall != 0 || env.alipay.statusCall != 0 {
		t.Fatal("余额方式对账不得调用网关")
	}
	// 本地聚合仍然返回
	if len(report.Cells) == 0 {
		t.Fatal("报表应包含余额方式聚合单元")
	}
}

func TestReconciliationMethodFilter(t *testing.T) {
	env := setupPaymentTest(t)
	user := createTestUser(t, env.db, "13840000007")
	createPendingGatewayPayment(t, env, user.ID, "58.00")

	// 只核对支付宝时不触碰微信网关
	env.wechat.status = &payment.StatusResult{Outcome: constants.GatewayOutcomeSuccess, Amount: "58.00"}
	from, to := reconcileWindow()
	report, err := env.svc.GetReconciliation(context.Background(), from, to, constants.PaymentMethodAlipay)
	if err != nil {
		t.Fatalf("GetReconciliation 失败: %v", err)
	}
	if env.wechat.statusCall != 0 {
		t.Fatal("指定支付宝对账不得查询微信网关")
	}
	if report.CheckedPending != 0 {
		t.Fatalf("无支付宝记录时不应有抽查, got %d", report.CheckedPending)
	}
	for _, cell := range report.Cells {
		if cell.Method != constants.PaymentMethodAlipay {
			t.Fatalf("方式过滤后聚合单元异常: %+v", cell)
		}
	}
}
