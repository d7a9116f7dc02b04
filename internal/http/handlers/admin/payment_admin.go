package admin

import (
	"strconv"
	"time"

	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListPayments 管理端支付记录列表
func (h *Handler) ListPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = shared.NormalizePagination(page, pageSize)

	filter := repository.PaymentListFilter{
		Page:      page,
		PageSize:  pageSize,
		Method:    c.Query("method"),
		Status:    c.Query("status"),
		PaymentNo: c.Query("payment_no"),
	}
	if raw := c.Query("user_id"); raw != "" {
		if userID, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.UserID = uint(userID)
		}
	}
	if raw := c.Query("order_id"); raw != "" {
		if orderID, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.OrderID = uint(orderID)
		}
	}
	if from, ok := parseDateQuery(c, "from"); ok {
		filter.CreatedFrom = from
	}
	if to, ok := parseDateQuery(c, "to"); ok {
		filter.CreatedTo = to
	}

	records, total, err := h.PaymentService.ListPaymentsAdmin(filter)
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

// GetPayment 管理端支付详情
func (h *Handler) GetPayment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		shared.RespondError(c, response.CodeBadRequest, "支付记录 ID 无效", err)
		return
	}
	record, err := h.PaymentService.GetPaymentByID(uint(id))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, record)
}

// GetReconciliation 对账报表，只报告差异不自动修正
func (h *Handler) GetReconciliation(c *gin.Context) {
	now := time.Now()
	from := now.AddDate(0, 0, -1).Truncate(24 * time.Hour)
	to := now
	if parsed, ok := parseDateQuery(c, "from"); ok {
		from = *parsed
	}
	if parsed, ok := parseDateQuery(c, "to"); ok {
		to = parsed.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		shared.RespondError(c, response.CodeBadRequest, "对账时间范围无效", nil)
		return
	}
	report, err := h.PaymentService.GetReconciliation(c.Request.Context(), from, to, c.Query("method"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, report)
}

// parseDateQuery 解析 yyyy-mm-dd 查询参数
func parseDateQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, false
	}
	parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, false
	}
	return &parsed, true
}
