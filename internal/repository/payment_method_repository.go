package repository

import (
	"errors"
	"strings"

	"github.com/diancan-pay/internal/models"

	"gorm.io/gorm"
)

// PaymentMethodRepository 支付方式配置数据访问接口
type PaymentMethodRepository interface {
	Create(method *models.PaymentMethodSetting) error
	Update(method *models.PaymentMethodSetting) error
	GetByID(id uint) (*models.PaymentMethodSetting, error)
	GetByCode(code string) (*models.PaymentMethodSetting, error)
	ListAll() ([]models.PaymentMethodSetting, error)
	ListActive() ([]models.PaymentMethodSetting, error)
}

// GormPaymentMethodRepository GORM 支付方式配置仓储实现
type GormPaymentMethodRepository struct {
	db *gorm.DB
}

// NewPaymentMethodRepository 创建支付方式配置仓储
func NewPaymentMethodRepository(db *gorm.DB) *GormPaymentMethodRepository {
	return &GormPaymentMethodRepository{db: db}
}

// Create 创建支付方式配置
func (r *GormPaymentMethodRepository) Create(method *models.PaymentMethodSetting) error {
	return r.db.Create(method).Error
}

// Update 更新支付方式配置
func (r *GormPaymentMethodRepository) Update(method *models.PaymentMethodSetting) error {
	return r.db.Save(method).Error
}

// GetByID 根据 ID 获取支付方式配置
func (r *GormPaymentMethodRepository) GetByID(id uint) (*models.PaymentMethodSetting, error) {
	var method models.PaymentMethodSetting
	if err := r.db.First(&method, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

// GetByCode 根据方式编码获取支付方式配置
func (r *GormPaymentMethodRepository) GetByCode(code string) (*models.PaymentMethodSetting, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	var method models.PaymentMethodSetting
	if err := r.db.Where("code = ?", code).First(&method).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

// ListAll 获取全部支付方式配置
func (r *GormPaymentMethodRepository) ListAll() ([]models.PaymentMethodSetting, error) {
	var methods []models.PaymentMethodSetting
	if err := r.db.Order("sort_order asc, id asc").Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

// ListActive 获取启用中的支付方式配置
func (r *GormPaymentMethodRepository) ListActive() ([]models.PaymentMethodSetting, error) {
	var methods []models.PaymentMethodSetting
	if err := r.db.Where("is_active = ?", true).Order("sort_order asc, id asc").Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}
