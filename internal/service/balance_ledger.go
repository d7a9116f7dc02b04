package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"

	"gorm.io/gorm"
)

// BalanceLedgerService 余额账本服务
// UserBalance 的唯一写入方：每次余额变动在同一事务内落一条前后快照齐全的流水，
// 幂等性依赖流水表 reference 唯一键。同一用户的变动经行锁串行，不同用户互不阻塞。
type BalanceLedgerService struct {
	balanceRepo repository.BalanceRepository
}

// NewBalanceLedgerService 创建余额账本服务
func NewBalanceLedgerService(balanceRepo repository.BalanceRepository) *BalanceLedgerService {
	return &BalanceLedgerService{balanceRepo: balanceRepo}
}

// LedgerEntryInput 账本变动输入
type LedgerEntryInput struct {
	UserID      uint
	Amount      models.Money
	Reference   string // 幂等参考号，调用方保证业务内唯一
	RelatedType string
	RelatedID   uint
	Remark      string
}

// BalanceReservation 余额预留句柄
// Reserve 返回，Capture/Release 凭 Reference 结算。
type BalanceReservation struct {
	UserID    uint
	Amount    models.Money
	Reference string
}

// GetAccount 获取余额账户（不存在时返回零值账户视图）
func (s *BalanceLedgerService) GetAccount(userID uint) (*models.UserBalance, error) {
	if userID == 0 {
		return nil, ErrBalanceAccountNotFound
	}
	account, err := s.balanceRepo.GetAccountByUserID(userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &models.UserBalance{
			UserID:        userID,
			Balance:       models.ZeroMoney(),
			FrozenBalance: models.ZeroMoney(),
			TotalRecharge: models.ZeroMoney(),
			TotalConsume:  models.ZeroMoney(),
		}, nil
	}
	return account, nil
}

// ListTransactions 分页查询余额流水
func (s *BalanceLedgerService) ListTransactions(filter repository.BalanceTransactionListFilter) ([]models.BalanceTransaction, int64, error) {
	return s.balanceRepo.ListTransactions(filter)
}

// Reserve 预留余额：可用余额转入冻结，落 consume/hold 流水
// 余额不足返回 ErrInsufficientBalance。同一参考号重复预留为无操作。
func (s *BalanceLedgerService) Reserve(input LedgerEntryInput) (*BalanceReservation, error) {
	if err := validateLedgerInput(input); err != nil {
		return nil, err
	}
	holdRef := holdReference(input.Reference)
	reservation := &BalanceReservation{
		UserID:    input.UserID,
		Amount:    input.Amount,
		Reference: input.Reference,
	}
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.balanceRepo.WithTx(tx)
		existing, err := repo.GetTransactionByReference(holdRef)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		account, err := ensureAccountForUpdate(repo, input.UserID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: 可用余额 %s，需支付 %s", ErrInsufficientBalance, account.Balance.String(), input.Amount.String())
		}
		balanceBefore := account.Balance
		frozenBefore := account.FrozenBalance
		account.Balance = account.Balance.Sub(input.Amount)
		account.FrozenBalance = account.FrozenBalance.Add(input.Amount)
		if err := repo.UpdateAccount(account); err != nil {
			return err
		}
		return repo.CreateTransaction(&models.BalanceTransaction{
			UserID:        input.UserID,
			Type:          constants.BalanceTxnTypeConsume,
			Stage:         constants.BalanceTxnStageHold,
			Amount:        input.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  account.Balance,
			FrozenBefore:  frozenBefore,
			FrozenAfter:   account.FrozenBalance,
			Currency:      constants.DefaultCurrency,
			RelatedType:   input.RelatedType,
			RelatedID:     input.RelatedID,
			Reference:     holdRef,
			Remark:        cleanLedgerRemark(input.Remark, "余额支付预留"),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("balance_reserve_success",
		"user_id", input.UserID,
		"amount", input.Amount.String(),
		"reference", input.Reference,
	)
	return reservation, nil
}

// Capture 捕获预留：冻结扣减转为永久消费，累计消费递增
// 重复捕获为无操作；预留已释放则返回 ErrBalanceReservationSettled。
func (s *BalanceLedgerService) Capture(handle *BalanceReservation) error {
	if handle == nil || strings.TrimSpace(handle.Reference) == "" {
		return ErrBalanceReservationMissing
	}
	return s.settleReservation(handle, constants.BalanceTxnStageCapture)
}

// Release 释放预留：冻结金额退回可用余额
// 重复释放为无操作；预留已捕获则返回 ErrBalanceReservationSettled。
func (s *BalanceLedgerService) Release(handle *BalanceReservation) error {
	if handle == nil || strings.TrimSpace(handle.Reference) == "" {
		return ErrBalanceReservationMissing
	}
	return s.settleReservation(handle, constants.BalanceTxnStageRelease)
}

// ReservationHandle 按原始参考号重建预留句柄
// 供跨请求结算（如异步取消）定位已存在的预留。
func (s *BalanceLedgerService) ReservationHandle(userID uint, reference string) (*BalanceReservation, error) {
	hold, err := s.balanceRepo.GetTransactionByReference(holdReference(reference))
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, ErrBalanceReservationMissing
	}
	if userID != 0 && hold.UserID != userID {
		return nil, ErrBalanceReservationMissing
	}
	return &BalanceReservation{
		UserID:    hold.UserID,
		Amount:    hold.Amount,
		Reference: reference,
	}, nil
}

// settleReservation 结算预留（capture 或 release 方向）
func (s *BalanceLedgerService) settleReservation(handle *BalanceReservation, stage string) error {
	holdRef := holdReference(handle.Reference)
	settleRef := stageReference(stage, handle.Reference)
	counterRef := stageReference(counterStage(stage), handle.Reference)
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.balanceRepo.WithTx(tx)
		hold, err := repo.GetTransactionByReference(holdRef)
		if err != nil {
			return err
		}
		if hold == nil {
			return fmt.Errorf("%w: %s", ErrBalanceReservationMissing, handle.Reference)
		}
		settled, err := repo.GetTransactionByReference(settleRef)
		if err != nil {
			return err
		}
		if settled != nil {
			return nil
		}
		counter, err := repo.GetTransactionByReference(counterRef)
		if err != nil {
			return err
		}
		if counter != nil {
			return fmt.Errorf("%w: %s 已按 %s 结算", ErrBalanceReservationSettled, handle.Reference, counter.Stage)
		}
		account, err := ensureAccountForUpdate(repo, hold.UserID)
		if err != nil {
			return err
		}
		balanceBefore := account.Balance
		frozenBefore := account.FrozenBalance
		account.FrozenBalance = account.FrozenBalance.Sub(hold.Amount)
		remark := "余额支付扣款"
		if stage == constants.BalanceTxnStageCapture {
			account.TotalConsume = account.TotalConsume.Add(hold.Amount)
		} else {
			account.Balance = account.Balance.Add(hold.Amount)
			remark = "余额支付预留释放"
		}
		if err := repo.UpdateAccount(account); err != nil {
			return err
		}
		return repo.CreateTransaction(&models.BalanceTransaction{
			UserID:        hold.UserID,
			Type:          constants.BalanceTxnTypeConsume,
			Stage:         stage,
			Amount:        hold.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  account.Balance,
			FrozenBefore:  frozenBefore,
			FrozenAfter:   account.FrozenBalance,
			Currency:      hold.Currency,
			RelatedType:   hold.RelatedType,
			RelatedID:     hold.RelatedID,
			Reference:     settleRef,
			Remark:        remark,
		})
	})
	if err != nil {
		return err
	}
	logger.Infow("balance_reservation_settled",
		"user_id", handle.UserID,
		"reference", handle.Reference,
		"stage", stage,
	)
	return nil
}

// Credit 退款入账：直接增加可用余额，落 refund 流水
func (s *BalanceLedgerService) Credit(input LedgerEntryInput) error {
	return s.creditAccount(input, constants.BalanceTxnTypeRefund, "余额退款入账")
}

// Recharge 充值入账：可用余额与累计充值同增，落 recharge 流水
func (s *BalanceLedgerService) Recharge(input LedgerEntryInput) error {
	return s.creditAccount(input, constants.BalanceTxnTypeRecharge, "余额充值")
}

// Withdraw 扣减余额：可用余额直接减少，落 withdrawal 流水
// 余额不足返回 ErrInsufficientBalance。
func (s *BalanceLedgerService) Withdraw(input LedgerEntryInput) error {
	if err := validateLedgerInput(input); err != nil {
		return err
	}
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.balanceRepo.WithTx(tx)
		existing, err := repo.GetTransactionByReference(input.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		account, err := ensureAccountForUpdate(repo, input.UserID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: 可用余额 %s，需扣减 %s", ErrInsufficientBalance, account.Balance.String(), input.Amount.String())
		}
		balanceBefore := account.Balance
		account.Balance = account.Balance.Sub(input.Amount)
		if err := repo.UpdateAccount(account); err != nil {
			return err
		}
		return repo.CreateTransaction(&models.BalanceTransaction{
			UserID:        input.UserID,
			Type:          constants.BalanceTxnTypeWithdrawal,
			Amount:        input.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  account.Balance,
			FrozenBefore:  account.FrozenBalance,
			FrozenAfter:   account.FrozenBalance,
			Currency:      constants.DefaultCurrency,
			RelatedType:   input.RelatedType,
			RelatedID:     input.RelatedID,
			Reference:     input.Reference,
			Remark:        cleanLedgerRemark(input.Remark, "余额扣减"),
		})
	})
	if err != nil {
		return err
	}
	logger.Infow("balance_withdraw_success",
		"user_id", input.UserID,
		"amount", input.Amount.String(),
		"reference", input.Reference,
	)
	return nil
}

// creditAccount 入账公共路径（recharge / refund）
func (s *BalanceLedgerService) creditAccount(input LedgerEntryInput, txnType, defaultRemark string) error {
	if err := validateLedgerInput(input); err != nil {
		return err
	}
	err := models.DB.Transaction(func(tx *gorm.DB) error {
		repo := s.balanceRepo.WithTx(tx)
		existing, err := repo.GetTransactionByReference(input.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		account, err := ensureAccountForUpdate(repo, input.UserID)
		if err != nil {
			return err
		}
		balanceBefore := account.Balance
		account.Balance = account.Balance.Add(input.Amount)
		if txnType == constants.BalanceTxnTypeRecharge {
			account.TotalRecharge = account.TotalRecharge.Add(input.Amount)
		}
		if err := repo.UpdateAccount(account); err != nil {
			return err
		}
		return repo.CreateTransaction(&models.BalanceTransaction{
			UserID:        input.UserID,
			Type:          txnType,
			Amount:        input.Amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  account.Balance,
			FrozenBefore:  account.FrozenBalance,
			FrozenAfter:   account.FrozenBalance,
			Currency:      constants.DefaultCurrency,
			RelatedType:   input.RelatedType,
			RelatedID:     input.RelatedID,
			Reference:     input.Reference,
			Remark:        cleanLedgerRemark(input.Remark, defaultRemark),
		})
	})
	if err != nil {
		return err
	}
	logger.Infow("balance_credit_success",
		"user_id", input.UserID,
		"type", txnType,
		"amount", input.Amount.String(),
		"reference", input.Reference,
	)
	return nil
}

// ReplayAccount 按流水重放还原账户状态
// 对账自检：从零重放全部流水应与当前账户完全一致。
func (s *BalanceLedgerService) ReplayAccount(userID uint) (*models.UserBalance, error) {
	txns, err := s.balanceRepo.ListTransactionsByUserAsc(userID)
	if err != nil {
		return nil, err
	}
	replayed := &models.UserBalance{
		UserID:        userID,
		Balance:       models.ZeroMoney(),
		FrozenBalance: models.ZeroMoney(),
		TotalRecharge: models.ZeroMoney(),
		TotalConsume:  models.ZeroMoney(),
	}
	for _, txn := range txns {
		switch txn.Type {
		case constants.BalanceTxnTypeRecharge:
			replayed.Balance = replayed.Balance.Add(txn.Amount)
			replayed.TotalRecharge = replayed.TotalRecharge.Add(txn.Amount)
		case constants.BalanceTxnTypeRefund:
			replayed.Balance = replayed.Balance.Add(txn.Amount)
		case constants.BalanceTxnTypeWithdrawal:
			replayed.Balance = replayed.Balance.Sub(txn.Amount)
		case constants.BalanceTxnTypeConsume:
			switch txn.Stage {
			case constants.BalanceTxnStageHold:
				replayed.Balance = replayed.Balance.Sub(txn.Amount)
				replayed.FrozenBalance = replayed.FrozenBalance.Add(txn.Amount)
			case constants.BalanceTxnStageCapture:
				replayed.FrozenBalance = replayed.FrozenBalance.Sub(txn.Amount)
				replayed.TotalConsume = replayed.TotalConsume.Add(txn.Amount)
			case constants.BalanceTxnStageRelease:
				replayed.FrozenBalance = replayed.FrozenBalance.Sub(txn.Amount)
				replayed.Balance = replayed.Balance.Add(txn.Amount)
			}
		}
	}
	return replayed, nil
}

// ensureAccountForUpdate 加锁获取余额账户，不存在时创建后重查
// 并发创建冲突时依赖 user_id 唯一键，失败后重查一次。
func ensureAccountForUpdate(repo *repository.GormBalanceRepository, userID uint) (*models.UserBalance, error) {
	if userID == 0 {
		return nil, ErrBalanceAccountNotFound
	}
	account, err := repo.GetAccountByUserIDForUpdate(userID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	fresh := &models.UserBalance{
		UserID:        userID,
		Balance:       models.ZeroMoney(),
		FrozenBalance: models.ZeroMoney(),
		TotalRecharge: models.ZeroMoney(),
		TotalConsume:  models.ZeroMoney(),
	}
	if err := repo.CreateAccount(fresh); err != nil {
		account, qerr := repo.GetAccountByUserIDForUpdate(userID)
		if qerr != nil {
			return nil, qerr
		}
		if account == nil {
			return nil, err
		}
		return account, nil
	}
	account, err = repo.GetAccountByUserIDForUpdate(userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrBalanceAccountNotFound
	}
	return account, nil
}

func validateLedgerInput(input LedgerEntryInput) error {
	if input.UserID == 0 {
		return ErrBalanceAccountNotFound
	}
	if !input.Amount.GreaterThan(models.ZeroMoney()) {
		return ErrBalanceInvalidAmount
	}
	if strings.TrimSpace(input.Reference) == "" {
		return fmt.Errorf("%w: 缺少幂等参考号", ErrInvalidInput)
	}
	return nil
}

// BuildLedgerReference 生成管理操作的幂等参考号
func BuildLedgerReference(prefix string, id uint) string {
	return fmt.Sprintf("%s:%d:%d", prefix, id, time.Now().UnixNano())
}

func holdReference(reference string) string {
	return stageReference(constants.BalanceTxnStageHold, reference)
}

func stageReference(stage, reference string) string {
	return fmt.Sprintf("consume:%s:%s", stage, reference)
}

func counterStage(stage string) string {
	if stage == constants.BalanceTxnStageCapture {
		return constants.BalanceTxnStageRelease
	}
	return constants.BalanceTxnStageCapture
}

// cleanLedgerRemark 清理备注，空值回退默认文案
func cleanLedgerRemark(raw, fallback string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return fallback
	}
	if len([]rune(cleaned)) > 120 {
		cleaned = string([]rune(cleaned)[:120])
	}
	return cleaned
}
