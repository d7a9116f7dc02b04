package public

import (
	"strconv"

	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/repository"

	"github.com/gin-gonic/gin"
)

// GetBalance 查询用户余额账户
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	account, err := h.LedgerService.GetAccount(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":        account.UserID,
		"balance":        account.Balance,
		"frozen_balance": account.FrozenBalance,
		"total_recharge": account.TotalRecharge,
		"total_consume":  account.TotalConsume,
	})
}

// ListBalanceTransactions 用户余额流水分页列表
func (h *Handler) ListBalanceTransactions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = shared.NormalizePagination(page, pageSize)

	records, total, err := h.LedgerService.ListTransactions(repository.BalanceTransactionListFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   userID,
		Type:     c.Query("type"),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, records, response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
