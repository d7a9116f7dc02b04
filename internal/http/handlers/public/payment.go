package public

import (
	"strconv"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"
	"github.com/diancan-pay/internal/service"

	"github.com/gin-gonic/gin"
)

type createPaymentRequest struct {
	OrderID     uint   `json:"order_id" binding:"required"`
	Method      string `json:"method" binding:"required"`
	Amount      string `json:"amount"`
	PayPassword string `json:"pay_password"`
}

// CreatePayment 创建支付单并分发
func (h *Handler) CreatePayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	amount := models.ZeroMoney()
	if req.Amount != "" {
		parsed, err := models.NewMoneyFromString(req.Amount)
		if err != nil {
			shared.RespondError(c, response.CodeBadRequest, "金额格式无效", err)
			return
		}
		amount = parsed
	}
	result, err := h.PaymentService.CreatePayment(c.Request.Context(), service.CreatePaymentInput{
		UserID:      userID,
		OrderID:     req.OrderID,
		Method:      req.Method,
		Amount:      amount,
		PayPassword: req.PayPassword,
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}

type dispatchRequest struct {
	PaymentNo string `json:"payment_no" binding:"required"`
}

// DispatchWechat 重新分发微信支付
func (h *Handler) DispatchWechat(c *gin.Context) {
	h.dispatch(c, constants.PaymentMethodWechat)
}

// DispatchAlipay 重新分发支付宝支付
func (h *Handler) DispatchAlipay(c *gin.Context) {
	h.dispatch(c, constants.PaymentMethodAlipay)
}

func (h *Handler) dispatch(c *gin.Context, method string) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	result, err := h.PaymentService.Dispatch(c.Request.Context(), userID, req.PaymentNo, method, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}

// GetPaymentStatus 查询支付状态（滞留 pending 时先向网关求证）
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	record, err := h.PaymentService.GetPaymentStatus(c.Request.Context(), userID, paymentID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, record)
}

// CancelPayment 取消 pending 支付
func (h *Handler) CancelPayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	record, err := h.PaymentService.CancelPayment(userID, paymentID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, record)
}

type refundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// RefundPayment 申请退款（缺省金额为全额）
func (h *Handler) RefundPayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	amount := models.ZeroMoney()
	if req.Amount != "" {
		parsed, err := models.NewMoneyFromString(req.Amount)
		if err != nil {
			shared.RespondError(c, response.CodeBadRequest, "金额格式无效", err)
			return
		}
		amount = parsed
	}
	record, err := h.PaymentService.RefundPayment(c.Request.Context(), service.RefundPaymentInput{
		UserID:    userID,
		PaymentID: paymentID,
		Amount:    amount,
		Reason:    req.Reason,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, record)
}

// GetRefundStatus 查询退款进度
func (h *Handler) GetRefundStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	paymentID, ok := parseIDParam(c)
	if !ok {
		return
	}
	record, err := h.PaymentService.GetRefundStatus(c.Request.Context(), userID, paymentID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"payment_no":     record.PaymentNo,
		"status":         record.Status,
		"refund_no":      record.RefundNo,
		"refund_status":  record.RefundStatus,
		"refund_amount":  record.RefundAmount,
		"refund_pending": record.RefundPending,
		"refund_at":      record.RefundAt,
	})
}

// ListMethods 查询可用支付方式
func (h *Handler) ListMethods(c *gin.Context) {
	methods, err := h.PaymentService.ListMethods(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, methods)
}

// ListHistory 用户支付历史
func (h *Handler) ListHistory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = shared.NormalizePagination(page, pageSize)

	filter := repository.PaymentListFilter{
		Page:     page,
		PageSize: pageSize,
		Method:   c.Query("method"),
		Status:   c.Query("status"),
	}
	records, total, err := h.PaymentService.ListHistory(userID, filter)
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

// GetBills 用户按日账单
func (h *Handler) GetBills(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}
	bills, err := h.PaymentService.GetBills(userID, from, to)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, bills)
}

// parseIDParam 解析路径中的支付记录 ID
func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		shared.RespondError(c, response.CodeBadRequest, "支付记录 ID 无效", err)
		return 0, false
	}
	return uint(id), true
}

// parseDateRange 解析日期范围，缺省最近 30 天
func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now()
	from := now.AddDate(0, 0, -30).Truncate(24 * time.Hour)
	to := now
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			shared.RespondError(c, response.CodeBadRequest, "起始日期格式无效", err)
			return from, to, false
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			shared.RespondError(c, response.CodeBadRequest, "结束日期格式无效", err)
			return from, to, false
		}
		to = parsed.AddDate(0, 0, 1)
	}
	return from, to, true
}
