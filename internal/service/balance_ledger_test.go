package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTest(t *testing.T) *BalanceLedgerService {
	t.Helper()

	dsn := fmt.Sprintf("file:balance_ledger_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.UserBalance{},
		&models.BalanceTransaction{},
	); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	models.DB = db

	return NewBalanceLedgerService(repository.NewBalanceRepository(db))
}

func money(t *testing.T, raw string) models.Money {
	t.Helper()
	m, err := models.NewMoneyFromString(raw)
	if err != nil {
		t.Fatalf("金额解析失败 %q: %v", raw, err)
	}
	return m
}

func rechargeForTest(t *testing.T, ledger *BalanceLedgerService, userID uint, amount string) {
	t.Helper()
	err := ledger.Recharge(LedgerEntryInput{
		UserID:    userID,
		Amount:    money(t, amount),
		Reference: fmt.Sprintf("test:recharge:%d:%d", userID, time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("测试充值失败: %v", err)
	}
}

func assertMoney(t *testing.T, label string, got, want models.Money) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s = %s, 期望 %s", label, got.String(), want.String())
	}
}

func TestRechargeAndWithdraw(t *testing.T) {
	ledger := setupLedgerTest(t)

	rechargeForTest(t, ledger, 1, "100.00")

	account, err := ledger.GetAccount(1)
	if err != nil {
		t.Fatalf("GetAccount 失败: %v", err)
	}
	assertMoney(t, "充值后可用余额", account.Balance, money(t, "100.00"))
	assertMoney(t, "累计充值", account.TotalRecharge, money(t, "100.00"))

	err = ledger.Withdraw(LedgerEntryInput{
		UserID:    1,
		Amount:    money(t, "30.00"),
		Reference: "test:withdraw:1",
	})
	if err != nil {
		t.Fatalf("Withdraw 失败: %v", err)
	}

	account, _ = ledger.GetAccount(1)
	assertMoney(t, "扣减后可用余额", account.Balance, money(t, "70.00"))
}

func TestRechargeIdempotentByReference(t *testing.T) {
	ledger := setupLedgerTest(t)

	input := LedgerEntryInput{
		UserID:    1,
		Amount:    money(t, "50.00"),
		Reference: "test:recharge:repeat",
	}
	if err := ledger.Recharge(input); err != nil {
		t.Fatalf("首次充值失败: %v", err)
	}
	if err := ledger.Recharge(input); err != nil {
		t.Fatalf("重复充值应为无操作: %v", err)
	}

	account, _ := ledger.GetAccount(1)
	assertMoney(t, "重复充值后余额", account.Balance, money(t, "50.00"))

	txns, total, err := ledger.ListTransactions(repository.BalanceTransactionListFilter{UserID: 1})
	if err != nil {
		t.Fatalf("ListTransactions 失败: %v", err)
	}
	if total != 1 || len(txns) != 1 {
		t.Fatalf("重复充值不应新增流水, got total=%d len=%d", total, len(txns))
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "20.00")

	err := ledger.Withdraw(LedgerEntryInput{
		UserID:    1,
		Amount:    money(t, "50.00"),
		Reference: "test:withdraw:overdraw",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("期望 ErrInsufficientBalance, got %v", err)
	}

	account, _ := ledger.GetAccount(1)
	assertMoney(t, "失败扣减后余额应不变", account.Balance, money(t, "20.00"))
}

func TestReserveThenCapture(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "100.00")

	handle, err := ledger.Reserve(LedgerEntryInput{
		UserID:      1,
		Amount:      money(t, "40.00"),
		Reference:   "P20260101TEST0001",
		RelatedType: constants.BalanceRelatedTypePayment,
		RelatedID:   1,
	})
	if err != nil {
		t.Fatalf("Reserve 失败: %v", err)
	}

	account, _ := ledger.GetAccount(1)
	assertMoney(t, "预留后可用余额", account.Balance, money(t, "60.00"))
	assertMoney(t, "预留后冻结余额", account.FrozenBalance, money(t, "40.00"))

	if err := ledger.Capture(handle); err != nil {
		t.Fatalf("Capture 失败: %v", err)
	}
	account, _ = ledger.GetAccount(1)
	assertMoney(t, "捕获后可用余额", account.Balance, money(t, "60.00"))
	assertMoney(t, "捕获后冻结余额", account.FrozenBalance, money(t, "0.00"))
	assertMoney(t, "累计消费", account.TotalConsume, money(t, "40.00"))

	// 重复捕获为无操作
	if err := ledger.Capture(handle); err != nil {
		t.Fatalf("重复 Capture 应为无操作: %v", err)
	}
	account, _ = ledger.GetAccount(1)
	assertMoney(t, "重复捕获后累计消费", account.TotalConsume, money(t, "40.00"))

	// 已捕获的预留不可再释放
	err = ledger.Release(handle)
	if !errors.Is(err, ErrBalanceReservationSettled) {
		t.Fatalf("捕获后释放应返回 ErrBalanceReservationSettled, got %v", err)
	}
}

func TestReserveThenRelease(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "100.00")

	handle, err := ledger.Reserve(LedgerEntryInput{
		UserID:      1,
		Amount:      money(t, "40.00"),
		Reference:   "P20260101TEST0002",
		RelatedType: constants.BalanceRelatedTypePayment,
	})
	if err != nil {
		t.Fatalf("Reserve 失败: %v", err)
	}
	if err := ledger.Release(handle); err != nil {
		t.Fatalf("Release 失败: %v", err)
	}

	account, _ := ledger.GetAccount(1)
	assertMoney(t, "释放后可用余额", account.Balance, money(t, "100.00"))
	assertMoney(t, "释放后冻结余额", account.FrozenBalance, money(t, "0.00"))
	assertMoney(t, "释放后累计消费", account.TotalConsume, money(t, "0.00"))

	if err := ledger.Release(handle); err != nil {
		t.Fatalf("重复 Release 应为无操作: %v", err)
	}
	err = ledger.Capture(handle)
	if !errors.Is(err, ErrBalanceReservationSettled) {
		t.Fatalf("释放后捕获应返回 ErrBalanceReservationSettled, got %v", err)
	}
}

func TestReserveInsufficientBalance(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "20.00")

	_, err := ledger.Reserve(LedgerEntryInput{
		UserID:    1,
		Amount:    money(t, "50.00"),
		Reference: "P20260101TEST0003",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("期望 ErrInsufficientBalance, got %v", err)
	}

	account, _ := ledger.GetAccount(1)
	assertMoney(t, "失败预留后可用余额", account.Balance, money(t, "20.00"))
	assertMoney(t, "失败预留后冻结余额", account.FrozenBalance, money(t, "0.00"))
}

func TestReserveIdempotentByReference(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "100.00")

	input := LedgerEntryInput{
		UserID:    1,
		Amount:    money(t, "30.00"),
		Reference: "P20260101TEST0004",
	}
	if _, err := ledger.Reserve(input); err != nil {
		t.Fatalf("首次 Reserve 失败: %v", err)
	}
	if _, err := ledger.Reserve(input); err != nil {
		t.Fatalf("重复 Reserve 应为无操作: %v", err)
	}

	account, _ := ledger.GetAccount(1)
	assertMoney(t, "重复预留后可用余额", account.Balance, money(t, "70.00"))
	assertMoney(t, "重复预留后冻结余额", account.FrozenBalance, money(t, "30.00"))
}

func TestSettleMissingReservation(t *testing.T) {
	ledger := setupLedgerTest(t)

	err := ledger.Capture(&BalanceReservation{UserID: 1, Reference: "P20260101NONE"})
	if !errors.Is(err, ErrBalanceReservationMissing) {
		t.Fatalf("期望 ErrBalanceReservationMissing, got %v", err)
	}
	if _, err := ledger.ReservationHandle(1, "P20260101NONE"); !errors.Is(err, ErrBalanceReservationMissing) {
		t.Fatalf("重建缺失预留句柄应失败, got %v", err)
	}
}

func TestReservationHandleRebuild(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "100.00")

	if _, err := ledger.Reserve(LedgerEntryInput{
		UserID:    1,
		Amount:    money(t, "25.00"),
		Reference: "P20260101TEST0005",
	}); err != nil {
		t.Fatalf("Reserve 失败: %v", err)
	}

	handle, err := ledger.ReservationHandle(1, "P20260101TEST0005")
	if err != nil {
		t.Fatalf("ReservationHandle 失败: %v", err)
	}
	assertMoney(t, "重建句柄金额", handle.Amount, money(t, "25.00"))

	// 其他用户无法重建
	if _, err := ledger.ReservationHandle(2, "P20260101TEST0005"); !errors.Is(err, ErrBalanceReservationMissing) {
		t.Fatalf("跨用户重建句柄应失败, got %v", err)
	}

	if err := ledger.Release(handle); err != nil {
		t.Fatalf("按重建句柄释放失败: %v", err)
	}
	account, _ := ledger.GetAccount(1)
	assertMoney(t, "释放后可用余额", account.Balance, money(t, "100.00"))
}

func TestLedgerInputValidation(t *testing.T) {
	ledger := setupLedgerTest(t)

	if err := ledger.Recharge(LedgerEntryInput{
		Amount:    money(t, "10.00"),
		Reference: "test:recharge:nouser",
	}); !errors.Is(err, ErrBalanceAccountNotFound) {
		t.Fatalf("缺少用户应返回 ErrBalanceAccountNotFound, got %v", err)
	}

	if err := ledger.Recharge(LedgerEntryInput{
		UserID:    1,
		Amount:    models.ZeroMoney(),
		Reference: "test:recharge:zero",
	}); !errors.Is(err, ErrBalanceInvalidAmount) {
		t.Fatalf("零金额应返回 ErrBalanceInvalidAmount, got %v", err)
	}

	if err := ledger.Recharge(LedgerEntryInput{
		UserID: 1,
		Amount: money(t, "10.00"),
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("缺少参考号应返回 ErrInvalidInput, got %v", err)
	}

	if _, err := ledger.GetAccount(0); !errors.Is(err, ErrBalanceAccountNotFound) {
		t.Fatalf("GetAccount(0) 应返回 ErrBalanceAccountNotFound, got %v", err)
	}
}

func TestGetAccountReturnsZeroView(t *testing.T) {
	ledger := setupLedgerTest(t)

	account, err := ledger.GetAccount(42)
	if err != nil {
		t.Fatalf("GetAccount 失败: %v", err)
	}
	assertMoney(t, "未开户可用余额", account.Balance, models.ZeroMoney())
	assertMoney(t, "未开户冻结余额", account.FrozenBalance, models.ZeroMoney())
	if account.UserID != 42 {
		t.Fatalf("零值账户应回填 user_id, got %d", account.UserID)
	}
}

func TestReplayAccountMatchesState(t *testing.T) {
	ledger := setupLedgerTest(t)
	rechargeForTest(t, ledger, 1, "200.00")

	// 一笔完整消费 + 一笔释放 + 一笔退款入账 + 一笔扣减
	captured, err := ledger.Reserve(LedgerEntryInput{
		UserID: 1, Amount: money(t, "60.00"), Reference: "P20260101REPLAY01",
	})
	if err != nil {
		t.Fatalf("Reserve 失败: %v", err)
	}
	if err := ledger.Capture(captured); err != nil {
		t.Fatalf("Capture 失败: %v", err)
	}
	released, err := ledger.Reserve(LedgerEntryInput{
		UserID: 1, Amount: money(t, "30.00"), Reference: "P20260101REPLAY02",
	})
	if err != nil {
		t.Fatalf("Reserve 失败: %v", err)
	}
	if err := ledger.Release(released); err != nil {
		t.Fatalf("Release 失败: %v", err)
	}
	if err := ledger.Credit(LedgerEntryInput{
		UserID: 1, Amount: money(t, "15.00"), Reference: "refund:R20260101REPLAY",
	}); err != nil {
		t.Fatalf("Credit 失败: %v", err)
	}
	if err := ledger.Withdraw(LedgerEntryInput{
		UserID: 1, Amount: money(t, "5.00"), Reference: "test:withdraw:replay",
	}); err != nil {
		t.Fatalf("Withdraw 失败: %v", err)
	}

	account, err := ledger.GetAccount(1)
	if err != nil {
		t.Fatalf("GetAccount 失败: %v", err)
	}
	replayed, err := ledger.ReplayAccount(1)
	if err != nil {
		t.Fatalf("ReplayAccount 失败: %v", err)
	}

	assertMoney(t, "重放可用余额", replayed.Balance, account.Balance)
	assertMoney(t, "重放冻结余额", replayed.FrozenBalance, account.FrozenBalance)
	assertMoney(t, "重放累计充值", replayed.TotalRecharge, account.TotalRecharge)
	assertMoney(t, "重放累计消费", replayed.TotalConsume, account.TotalConsume)
	assertMoney(t, "期望余额", account.Balance, money(t, "150.00"))
	assertMoney(t, "期望累计消费", account.TotalConsume, money(t, "60.00"))
}
