package wechatpay

import (
	"context"
	"errors"
	"fmt"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/payment"
)

// Gateway 微信支付网关实现
type Gateway struct {
	cfg *Config
}

// NewGateway 创建微信支付网关
func NewGateway(cfg *Config) *Gateway {
	return &Gateway{cfg: cfg}
}

// Method 支付方式编码
func (g *Gateway) Method() string {
	return constants.PaymentMethodWechat
}

// Initiate 发起微信 Native 下单
func (g *Gateway) Initiate(ctx context.Context, input payment.InitiateInput) (*payment.InitiateResult, error) {
	result, err := CreateNative(ctx, g.cfg, CreateInput{
		PaymentNo:   input.PaymentNo,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Subject,
		ClientIP:    input.ClientIP,
		Attach:      input.Attach,
		ExpireAt:    input.ExpireAt,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &payment.InitiateResult{
		QRCode:     result.QRCode,
		GatewayRef: input.PaymentNo,
		Raw:        result.Raw,
	}, nil
}

// ParseNotification 验签并解析微信异步通知
// 验签失败时 SignatureValid=false，载荷整体作废。
func (g *Gateway) ParseNotification(ctx context.Context, raw payment.RawNotification) (*payment.Notification, error) {
	result, err := VerifyAndDecodeWebhook(ctx, g.cfg, raw.Headers, raw.Body)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			return &payment.Notification{SignatureValid: false}, fmt.Errorf("%w: %v", payment.ErrSignatureInvalid, err)
		}
		return nil, mapError(err)
	}
	return &payment.Notification{
		PaymentNo:      result.PaymentNo,
		GatewayRef:     result.PaymentNo,
		TransactionID:  result.TransactionID,
		Outcome:        result.Outcome,
		Amount:         result.Amount,
		Currency:       result.Currency,
		SignatureValid: true,
		Raw:            result.Raw,
	}, nil
}

// QueryStatus 查询网关侧支付状态
// 网络失败不报错，返回 unknown 交由调用方对账。
func (g *Gateway) QueryStatus(ctx context.Context, paymentNo string) (*payment.StatusResult, error) {
	result, err := QueryOrderByPaymentNo(ctx, g.cfg, paymentNo)
	if err != nil {
		if errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrResponseInvalid) {
			return &payment.StatusResult{Outcome: constants.GatewayOutcomeUnknown}, nil
		}
		return nil, mapError(err)
	}
	return &payment.StatusResult{
		Outcome:       result.Outcome,
		TransactionID: result.TransactionID,
		Amount:        result.Amount,
		Raw:           result.Raw,
	}, nil
}

// Refund 发起微信退款
func (g *Gateway) Refund(ctx context.Context, input payment.RefundInput) (*payment.RefundResult, error) {
	result, err := CreateRefund(ctx, g.cfg, input.PaymentNo, input.RefundNo, input.Amount, input.TotalAmount, input.Reason)
	if err != nil {
		return nil, mapError(err)
	}
	outcome, _ := ToRefundOutcome(result.Status)
	return &payment.RefundResult{
		RefundRef: result.RefundID,
		Accepted:  outcome != constants.GatewayOutcomeFailure,
		Raw:       result.Raw,
	}, nil
}

// QueryRefund 查询微信退款进度
func (g *Gateway) QueryRefund(ctx context.Context, paymentNo, refundNo string) (*payment.RefundStatusResult, error) {
	result, err := QueryRefundByRefundNo(ctx, g.cfg, refundNo)
	if err != nil {
		if errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrResponseInvalid) {
			return &payment.RefundStatusResult{Outcome: constants.GatewayOutcomeUnknown}, nil
		}
		return nil, mapError(err)
	}
	outcome, ok := ToRefundOutcome(result.Status)
	if !ok {
		outcome = constants.GatewayOutcomeUnknown
	}
	return &payment.RefundStatusResult{
		Outcome: outcome,
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
