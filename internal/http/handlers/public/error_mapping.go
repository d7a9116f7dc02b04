package public

import (
	"errors"

	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/service"

	"github.com/gin-gonic/gin"
)

// serviceErrorRules 服务层哨兵错误到响应码的映射表
// 按序匹配，未命中归为内部错误。
var serviceErrorRules = []struct {
	target error
	code   int
}{
	{service.ErrInvalidInput, response.CodeBadRequest},
	{service.ErrPasswordIncorrect, response.CodeUnauthorized},
	{service.ErrUserDisabled, response.CodeForbidden},
	{service.ErrUserNotFound, response.CodeNotFound},
	{service.ErrOrderNotFound, response.CodeNotFound},
	{service.ErrOrderNotPayable, response.CodeBadRequest},
	{service.ErrOrderAmountMismatch, response.CodeBadRequest},
	{service.ErrPaymentNotFound, response.CodeNotFound},
	{service.ErrPaymentMethodUnknown, response.CodeBadRequest},
	{service.ErrPaymentMethodDisabled, response.CodeBadRequest},
	{service.ErrPaymentExists, response.CodeBadRequest},
	{service.ErrInvalidStateTransition, response.CodeBadRequest},
	{service.ErrPayPasswordNotSet, response.CodeBadRequest},
	{service.ErrPayPasswordIncorrect, response.CodeBadRequest},
	{service.ErrInsufficientBalance, response.CodeBadRequest},
	{service.ErrBalanceInvalidAmount, response.CodeBadRequest},
	{service.ErrBalanceAccountNotFound, response.CodeNotFound},
	{service.ErrRefundExceedsPaid, response.CodeBadRequest},
	{service.ErrRefundInFlight, response.CodeBadRequest},
	{service.ErrRefundNotFound, response.CodeNotFound},
	{service.ErrGatewayUnavailable, response.CodeInternal},
	{service.ErrGatewayRejected, response.CodeBadRequest},
}

// respondServiceError 将服务层错误映射为统一错误响应
func respondServiceError(c *gin.Context, err error) {
	for _, rule := range serviceErrorRules {
		if errors.Is(err, rule.target) {
			shared.RespondError(c, rule.code, err.Error(), nil)
			return
		}
	}
	shared.RespondError(c, response.CodeInternal, "服务器开小差了，请稍后再试", err)
}
