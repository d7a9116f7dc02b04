package models

import (
	"strings"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"

	"golang.org/x/crypto/bcrypt"
)

// InitDefaultAdmin 初始化默认管理员账号
func InitDefaultAdmin(username, password string) error {
	var count int64
	DB.Model(&Admin{}).Count(&count)

	// 如果已有管理员，确保默认 admin 拥有超级管理员权限
	if count > 0 {
		if err := DB.Model(&Admin{}).Where("username = ?", "admin").Update("is_super", true).Error; err != nil {
			logger.Warnw("ensure_default_admin_super_failed", "error", err)
		}
		return nil
	}

	// 创建默认管理员
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = "admin123"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := Admin{
		Username:     username,
		PasswordHash: string(hash),
		IsSuper:      strings.EqualFold(strings.TrimSpace(username), "admin"),
	}

	if err := DB.Create(&admin).Error; err != nil {
		return err
	}

	if password == "admin123" {
		logger.Warnw("default_admin_created_with_default_password", "username", username)
		logger.Warnw("default_admin_password_change_required", "username", username)
	} else {
		logger.Warnw("default_admin_created", "username", username, "password_hidden", true)
	}

	return nil
}

// InitDefaultPaymentMethods 初始化内置支付方式配置
// 已存在的记录不覆盖，管理端的启用开关与展示信息以库内为准。
func InitDefaultPaymentMethods() error {
	defaults := []PaymentMethodSetting{
		{Code: constants.PaymentMethodWechat, Name: "微信支付", Description: "扫码支付", SortOrder: 1, IsActive: true},
		{Code: constants.PaymentMethodAlipay, Name: "支付宝", Description: "跳转支付", SortOrder: 2, IsActive: true},
		{Code: constants.PaymentMethodBalance, Name: "余额支付", Description: "账户余额直接抵扣", SortOrder: 3, IsActive: true},
	}
	for _, method := range defaults {
		var count int64
		if err := DB.Model(&PaymentMethodSetting{}).Where("code = ?", method.Code).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := DB.Create(&method).Error; err != nil {
			return err
		}
		logger.Infow("default_payment_method_created", "code", method.Code)
	}
	return nil
}
