package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/diancan-pay/internal/cache"
	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"
)

// MethodService 支付方式配置服务（管理端）
type MethodService struct {
	methodRepo repository.PaymentMethodRepository
}

// NewMethodService 创建支付方式配置服务
func NewMethodService(methodRepo repository.PaymentMethodRepository) *MethodService {
	return &MethodService{methodRepo: methodRepo}
}

// ListAll 管理端查询全部支付方式配置
func (s *MethodService) ListAll() ([]models.PaymentMethodSetting, error) {
	return s.methodRepo.ListAll()
}

// MethodUpdateInput 支付方式配置更新输入
type MethodUpdateInput struct {
	Name        *string
	Description *string
	IsActive    *bool
	SortOrder   *int
}

// Update 更新支付方式配置并失效公共列表缓存
func (s *MethodService) Update(ctx context.Context, code string, input MethodUpdateInput) (*models.PaymentMethodSetting, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	setting, err := s.methodRepo.GetByCode(code)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentMethodUnknown, code)
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: 名称不能为空", ErrInvalidInput)
		}
		setting.Name = name
	}
	if input.Description != nil {
		setting.Description = strings.TrimSpace(*input.Description)
	}
	if input.IsActive != nil {
		setting.IsActive = *input.IsActive
	}
	if input.SortOrder != nil {
		setting.SortOrder = *input.SortOrder
	}
	if err := s.methodRepo.Update(setting); err != nil {
		return nil, err
	}
	if err := cache.Del(ctx, methodsCacheKey); err != nil {
		logger.Warnw("methods_cache_invalidate_failed", "error", err)
	}
	logger.Infow("payment_method_updated",
		"code", setting.Code,
		"is_active", setting.IsActive,
	)
	return setting, nil
}

// InitDefaultMethods 初始化三种内置支付方式（已存在则跳过）
func (s *MethodService) InitDefaultMethods() error {
	defaults := []models.PaymentMethodSetting{
		{Code: constants.PaymentMethodWechat, Name: "微信支付", Description: "微信扫码支付", IsActive: true, SortOrder: 1},
		{Code: constants.PaymentMethodAlipay, Name: "支付宝", Description: "支付宝网页支付", IsActive: true, SortOrder: 2},
		{Code: constants.PaymentMethodBalance, Name: "余额支付", Description: "账户余额直接抵扣", IsActive: true, SortOrder: 3},
	}
	for i := range defaults {
		existing, err := s.methodRepo.GetByCode(defaults[i].Code)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.methodRepo.Create(&defaults[i]); err != nil {
			return err
		}
		logger.Infow("payment_method_seeded", "code", defaults[i].Code)
	}
	return nil
}
