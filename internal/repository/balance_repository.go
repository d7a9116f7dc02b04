package repository

import (
	"errors"
	"strings"

	"github.com/diancan-pay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BalanceRepository 余额账户与流水数据访问接口
type BalanceRepository interface {
	GetAccountByUserID(userID uint) (*models.UserBalance, error)
	GetAccountByUserIDForUpdate(userID uint) (*models.UserBalance, error)
	CreateAccount(account *models.UserBalance) error
	UpdateAccount(account *models.UserBalance) error
	CreateTransaction(txn *models.BalanceTransaction) error
	GetTransactionByReference(reference string) (*models.BalanceTransaction, error)
	ListTransactions(filter BalanceTransactionListFilter) ([]models.BalanceTransaction, int64, error)
	ListTransactionsByUserAsc(userID uint) ([]models.BalanceTransaction, error)
	WithTx(tx *gorm.DB) *GormBalanceRepository
}

// GormBalanceRepository GORM 余额仓储实现
type GormBalanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository 创建余额仓储
func NewBalanceRepository(db *gorm.DB) *GormBalanceRepository {
	return &GormBalanceRepository{db: db}
}

// WithTx 绑定事务
func (r *GormBalanceRepository) WithTx(tx *gorm.DB) *GormBalanceRepository {
	if tx == nil {
		return r
	}
	return &GormBalanceRepository{db: tx}
}

// GetAccountByUserID 按用户ID获取余额账户
func (r *GormBalanceRepository) GetAccountByUserID(userID uint) (*models.UserBalance, error) {
	if userID == 0 {
		return nil, nil
	}
	var account models.UserBalance
	if err := r.db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByUserIDForUpdate 按用户ID加锁获取余额账户
func (r *GormBalanceRepository) GetAccountByUserIDForUpdate(userID uint) (*models.UserBalance, error) {
	if userID == 0 {
		return nil, nil
	}
	var account models.UserBalance
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount 创建余额账户
func (r *GormBalanceRepository) CreateAccount(account *models.UserBalance) error {
	return r.db.Create(account).Error
}

// UpdateAccount 更新余额账户
func (r *GormBalanceRepository) UpdateAccount(account *models.UserBalance) error {
	return r.db.Save(account).Error
}

// CreateTransaction 创建余额流水
func (r *GormBalanceRepository) CreateTransaction(txn *models.BalanceTransaction) error {
	return r.db.Create(txn).Error
}

// GetTransactionByReference 按幂等参考号获取流水
func (r *GormBalanceRepository) GetTransactionByReference(reference string) (*models.BalanceTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var txn models.BalanceTransaction
	if err := r.db.Where("reference = ?", reference).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ListTransactions 分页查询余额流水
func (r *GormBalanceRepository) ListTransactions(filter BalanceTransactionListFilter) ([]models.BalanceTransaction, int64, error) {
	query := r.db.Model(&models.BalanceTransaction{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Stage != "" {
		query = query.Where("stage = ?", filter.Stage)
	}
	if filter.RelatedType != "" {
		query = query.Where("related_type = ?", filter.RelatedType)
	}
	if filter.RelatedID != 0 {
		query = query.Where("related_id = ?", filter.RelatedID)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var txns []models.BalanceTransaction
	if err := query.Order("id desc").Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ListTransactionsByUserAsc 按创建顺序获取用户全部流水
// 供账本重放校验使用。
func (r *GormBalanceRepository) ListTransactionsByUserAsc(userID uint) ([]models.BalanceTransaction, error) {
	if userID == 0 {
		return []models.BalanceTransaction{}, nil
	}
	var txns []models.BalanceTransaction
	if err := r.db.Where("user_id = ?", userID).Order("id asc").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
