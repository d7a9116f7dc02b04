package service

import "errors"

// 服务层哨兵错误
// 处理器通过 errors.Is 匹配并映射为响应码，包装时使用 fmt.Errorf("%w: %v", ErrX, err)。
var (
	// 通用
	ErrInvalidInput = errors.New("请求参数无效")

	// 用户与管理员
	ErrUserNotFound         = errors.New("用户不存在")
	ErrUserDisabled         = errors.New("用户已被禁用")
	ErrAdminNotFound        = errors.New("管理员不存在")
	ErrPasswordIncorrect    = errors.New("账号或密码错误")
	ErrPayPasswordNotSet    = errors.New("未设置支付密码")
	ErrPayPasswordIncorrect = errors.New("支付密码错误")

	// 订单协作方
	ErrOrderNotFound       = errors.New("订单不存在")
	ErrOrderNotPayable     = errors.New("订单当前不可支付")
	ErrOrderAmountMismatch = errors.New("支付金额与订单应付金额不一致")

	// 支付
	ErrPaymentNotFound         = errors.New("支付记录不存在")
	ErrPaymentMethodDisabled   = errors.New("支付方式未启用")
	ErrPaymentMethodUnknown    = errors.New("不支持的支付方式")
	ErrPaymentExists           = errors.New("订单已存在进行中的支付")
	ErrPaymentAmountMismatch   = errors.New("支付金额与通知金额不一致")
	ErrInvalidStateTransition  = errors.New("支付状态不允许该操作")
	ErrConflictingConfirmation = errors.New("支付确认冲突")

	// 网关
	ErrGatewayUnavailable = errors.New("支付网关暂不可用")
	ErrGatewayRejected    = errors.New("支付网关拒绝请求")

	// 余额账本
	ErrInsufficientBalance       = errors.New("余额不足")
	ErrBalanceInvalidAmount      = errors.New("余额变动金额无效")
	ErrBalanceAccountNotFound    = errors.New("余额账户不存在")
	ErrBalanceReservationMissing = errors.New("余额预留记录不存在")
	ErrBalanceReservationSettled = errors.New("余额预留已反向结算")

	// 退款
	ErrRefundNotFound      = errors.New("退款记录不存在")
	ErrRefundExceedsPaid   = errors.New("退款金额超出可退余额")
	ErrRefundInFlight      = errors.New("已有退款正在处理中")
	ErrRefundNotRefundable = errors.New("当前支付不可退款")
)
