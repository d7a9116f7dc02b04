package admin

import (
	"errors"

	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/service"

	"github.com/gin-gonic/gin"
)

// serviceErrorRules 管理端服务层哨兵错误映射
var serviceErrorRules = []struct {
	target error
	code   int
}{
	{service.ErrInvalidInput, response.CodeBadRequest},
	{service.ErrPasswordIncorrect, response.CodeUnauthorized},
	{service.ErrAdminNotFound, response.CodeUnauthorized},
	{service.ErrUserNotFound, response.CodeNotFound},
	{service.ErrPaymentNotFound, response.CodeNotFound},
	{service.ErrPaymentMethodUnknown, response.CodeBadRequest},
	{service.ErrBalanceInvalidAmount, response.CodeBadRequest},
	{service.ErrBalanceAccountNotFound, response.CodeNotFound},
	{service.ErrInsufficientBalance, response.CodeBadRequest},
}

func respondServiceError(c *gin.Context, err error) {
	for _, rule := range serviceErrorRules {
		if errors.Is(err, rule.target) {
			shared.RespondError(c, rule.code, err.Error(), nil)
			return
		}
	}
	shared.RespondError(c, response.CodeInternal, "服务器开小差了，请稍后再试", err)
}
