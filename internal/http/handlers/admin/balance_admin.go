package admin

import (
	"strconv"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/service"

	"github.com/gin-gonic/gin"
)

type balanceAdjustRequest struct {
	Amount string `json:"amount" binding:"required"`
	Remark string `json:"remark"`
}

// RechargeBalance 管理员为用户充值余额
func (h *Handler) RechargeBalance(c *gin.Context) {
	h.adjustBalance(c, true)
}

// DeductBalance 管理员扣减用户余额
func (h *Handler) DeductBalance(c *gin.Context) {
	h.adjustBalance(c, false)
}

func (h *Handler) adjustBalance(c *gin.Context, credit bool) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || userID == 0 {
		shared.RespondError(c, response.CodeBadRequest, "用户 ID 无效", err)
		return
	}
	var req balanceAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	amount, err := models.NewMoneyFromString(req.Amount)
	if err != nil {
		shared.RespondError(c, response.CodeBadRequest, "金额格式无效", err)
		return
	}

	input := service.LedgerEntryInput{
		UserID:      uint(userID),
		Amount:      amount,
		RelatedType: constants.BalanceRelatedTypeAdmin,
		RelatedID:   adminID,
		Remark:      req.Remark,
	}
	if credit {
		input.Reference = service.BuildLedgerReference("admin:recharge", uint(userID))
		err = h.LedgerService.Recharge(input)
	} else {
		input.Reference = service.BuildLedgerReference("admin:deduct", uint(userID))
		err = h.LedgerService.Withdraw(input)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	account, err := h.LedgerService.GetAccount(uint(userID))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	shared.RequestLog(c).Infow("admin_balance_adjusted",
		"admin_id", adminID,
		"user_id", userID,
		"credit", credit,
		"amount", amount.String(),
	)
	response.Success(c, account)
}
