package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository 支付数据访问接口
type PaymentRepository interface {
	Create(payment *models.Payment) error
	Update(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByIDForUpdate(id uint) (*models.Payment, error)
	GetByPaymentNo(paymentNo string) (*models.Payment, error)
	GetByPaymentNoForUpdate(paymentNo string) (*models.Payment, error)
	GetLatestByGatewayRef(gatewayRef string) (*models.Payment, error)
	GetActiveByOrderID(orderID uint) (*models.Payment, error)
	ListPendingInRange(from, to time.Time, methods []string, limit int) ([]models.Payment, error)
	List(filter PaymentListFilter) ([]models.Payment, int64, error)
	GetDailyStats(from, to time.Time) ([]PaymentDailyStatRow, error)
	GetUserDailyBills(userID uint, from, to time.Time) ([]PaymentDailyBillRow, error)
	WithTx(tx *gorm.DB) *GormPaymentRepository
}

// PaymentDailyStatRow 日×方式聚合原始行（对账报表）
// 金额聚合直接扫描进 Money，避免 float64 中转丢失精度。
type PaymentDailyStatRow struct {
	Day         string
	Method      string
	Status      string
	Count       int64
	TotalAmount models.Money
}

// PaymentDailyBillRow 用户每日账单原始行
type PaymentDailyBillRow struct {
	Day          string
	PaidCount    int64
	PaidAmount   models.Money
	RefundAmount models.Money
}

// GormPaymentRepository GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建支付仓库
func NewPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentRepository) WithTx(tx *gorm.DB) *GormPaymentRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentRepository{db: tx}
}

// Create 创建支付记录
func (r *GormPaymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

// Update 更新支付记录
func (r *GormPaymentRepository) Update(payment *models.Payment) error {
	return r.db.Save(payment).Error
}

// GetByID 根据 ID 获取支付记录
func (r *GormPaymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByIDForUpdate 根据 ID 加锁获取支付记录
func (r *GormPaymentRepository) GetByIDForUpdate(id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByPaymentNo 根据支付单号获取支付记录
func (r *GormPaymentRepository) GetByPaymentNo(paymentNo string) (*models.Payment, error) {
	paymentNo = strings.TrimSpace(paymentNo)
	if paymentNo == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.Where("payment_no = ?", paymentNo).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetByPaymentNoForUpdate 根据支付单号加锁获取支付记录
func (r *GormPaymentRepository) GetByPaymentNoForUpdate(paymentNo string) (*models.Payment, error) {
	paymentNo = strings.TrimSpace(paymentNo)
	if paymentNo == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payment_no = ?", paymentNo).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// GetLatestByGatewayRef 根据网关引用号获取最新支付记录
func (r *GormPaymentRepository) GetLatestByGatewayRef(gatewayRef string) (*models.Payment, error) {
	gatewayRef = strings.TrimSpace(gatewayRef)
	if gatewayRef == "" {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.Where("gateway_ref = ?", gatewayRef).Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// GetActiveByOrderID 获取订单当前未终态的支付记录
// 一个订单同一时间最多存在一条非终态支付。
func (r *GormPaymentRepository) GetActiveByOrderID(orderID uint) (*models.Payment, error) {
	if orderID == 0 {
		return nil, nil
	}
	var payment models.Payment
	result := r.db.Where("order_id = ? AND status IN ?",
		orderID,
		[]string{constants.PaymentStatusPending, constants.PaymentStatusPaid},
	).Order("id desc").Limit(1).Find(&payment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

// ListPendingInRange 获取时间范围内仍处于 pending 的支付记录
// 供对账报表与过期扫描使用，limit 限制单次网关查询量。
func (r *GormPaymentRepository) ListPendingInRange(from, to time.Time, methods []string, limit int) ([]models.Payment, error) {
	query := r.db.Model(&models.Payment{}).
		Where("status = ? AND created_at >= ? AND created_at < ?", constants.PaymentStatusPending, from, to)
	if len(methods) > 0 {
		query = query.Where("method IN ?", methods)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var payments []models.Payment
	if err := query.Order("id asc").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// List 分页查询支付记录
func (r *GormPaymentRepository) List(filter PaymentListFilter) ([]models.Payment, int64, error) {
	query := r.db.Model(&models.Payment{})

	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.OrderID != 0 {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PaymentNo != "" {
		query = query.Where("payment_no LIKE ?", "%"+filter.PaymentNo+"%")
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

	var payments []models.Payment
	if err := query.Order("id desc").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// GetDailyStats 按日×支付方式×状态聚合支付记录
func (r *GormPaymentRepository) GetDailyStats(from, to time.Time) ([]PaymentDailyStatRow, error) {
	dayExpr := "CAST(date(created_at) AS TEXT)"
	var rows []PaymentDailyStatRow
	if err := r.db.Model(&models.Payment{}).
		Select(fmt.Sprintf("%s as day, method, status, COUNT(*) as count, COALESCE(SUM(amount), 0) as total_amount", dayExpr)).
		Where("created_at >= ? AND created_at < ?", from, to).
		Group(fmt.Sprintf("%s, method, status", dayExpr)).
		Order("day asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetUserDailyBills 按日聚合用户已支付金额与退款金额
func (r *GormPaymentRepository) GetUserDailyBills(userID uint, from, to time.Time) ([]PaymentDailyBillRow, error) {
	if userID == 0 {
		return []PaymentDailyBillRow{}, nil
	}
	dayExpr := "CAST(date(created_at) AS TEXT)"
	var rows []PaymentDailyBillRow
	if err := r.db.Model(&models.Payment{}).
		Select(fmt.Sprintf("%s as day, COUNT(*) as paid_count, COALESCE(SUM(amount), 0) as paid_amount, COALESCE(SUM(refund_amount), 0) as refund_amount", dayExpr)).
		Where("user_id = ? AND created_at >= ? AND created_at < ? AND status IN ?",
			userID, from, to,
			[]string{constants.PaymentStatusPaid, constants.PaymentStatusRefunded},
		).
		Group(dayExpr).
		Order("day asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
