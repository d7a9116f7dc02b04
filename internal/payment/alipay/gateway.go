package alipay

import (
	"context"
	"errors"
	"fmt"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/payment"
)

// Gateway 支付宝网关实现
type Gateway struct {
	cfg *Config
}

// NewGateway 创建支付宝网关
func NewGateway(cfg *Config) *Gateway {
	if cfg != nil {
		cfg.Normalize()
	}
	return &Gateway{cfg: cfg}
}

// Method 支付方式编码
func (g *Gateway) Method() string {
	return constants.PaymentMethodAlipay
}

// Initiate 构建支付宝跳转支付链接
func (g *Gateway) Initiate(ctx context.Context, input payment.InitiateInput) (*payment.InitiateResult, error) {
	result, err := CreatePagePay(g.cfg, CreateInput{
		PaymentNo:      input.PaymentNo,
		Amount:         input.Amount,
		Subject:        input.Subject,
		PassbackParams: input.Attach,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &payment.InitiateResult{
		PayURL:     result.PayURL,
		GatewayRef: result.OutTradeNo,
		Raw:        result.Raw,
	}, nil
}

// ParseNotification 验签并解析支付宝异步通知
func (g *Gateway) ParseNotification(ctx context.Context, raw payment.RawNotification) (*payment.Notification, error) {
	result, err := ParseCallback(g.cfg, raw.Form)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			return &payment.Notification{SignatureValid: false}, fmt.Errorf("%w: %v", payment.ErrSignatureInvalid, err)
		}
		return nil, mapError(err)
	}
	return &payment.Notification{
		PaymentNo:      result.PaymentNo,
		GatewayRef:     result.PaymentNo,
		TransactionID:  result.TradeNo,
		Outcome:        result.Outcome,
		Amount:         result.Amount,
		Currency:       constants.DefaultCurrency,
		SignatureValid: true,
		Raw:            result.Raw,
	}, nil
}

// QueryStatus 查询网关侧支付状态
// 网络失败不报错，返回 unknown 交由调用方对账。
func (g *Gateway) QueryStatus(ctx context.Context, paymentNo string) (*payment.StatusResult, error) {
	result, err := QueryTrade(ctx, g.cfg, paymentNo)
	if err != nil {
		if errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrResponseInvalid) {
			return &payment.StatusResult{Outcome: constants.GatewayOutcomeUnknown}, nil
		}
		return nil, mapError(err)
	}
	return &payment.StatusResult{
		Outcome:       result.Outcome,
		TransactionID: result.TradeNo,
		Amount:        result.Amount,
		Raw:           result.Raw,
	}, nil
}

// Refund 发起支付宝退款
func (g *Gateway) Refund(ctx context.Context, input payment.RefundInput) (*payment.RefundResult, error) {
	result, err := RefundTrade(ctx, g.cfg, input.PaymentNo, input.RefundNo, input.Amount, input.Reason)
	if err != nil {
		return nil, mapError(err)
	}
	return &payment.RefundResult{
		RefundRef: result.RefundNo,
		Accepted:  true,
		Raw:       result.Raw,
	}, nil
}

// QueryRefund 查询支付宝退款进度
func (g *Gateway) QueryRefund(ctx context.Context, paymentNo, refundNo string) (*payment.RefundStatusResult, error) {
	result, err := QueryRefundTrade(ctx, g.cfg, paymentNo, refundNo)
	if err != nil {
		if errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrResponseInvalid) {
			return &payment.RefundStatusResult{Outcome: constants.GatewayOutcomeUnknown}, nil
		}
		return nil, mapError(err)
	}
	return &payment.RefundStatusResult{
		Outcome: result.Outcome,
		Amount:  result.RefundAmount,
		Raw:     result.Raw,
	}, nil
}

// mapError 将适配器内部错误收敛到网关层统一错误
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", payment.ErrSignatureInvalid, err)
	case errors.Is(err, ErrRequestFailed):
		return fmt.Errorf("%w: %v", payment.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", payment.ErrRejected, err)
	}
}
