package admin

import (
	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/service"

	"github.com/gin-gonic/gin"
)

// ListMethods 管理端支付方式配置列表（含停用项）
func (h *Handler) ListMethods(c *gin.Context) {
	settings, err := h.MethodService.ListAll()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, settings)
}

type methodUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   *int    `json:"sort_order"`
}

// UpdateMethod 更新支付方式配置
func (h *Handler) UpdateMethod(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		shared.RespondError(c, response.CodeBadRequest, "支付方式编码无效", nil)
		return
	}
	var req methodUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	setting, err := h.MethodService.Update(c.Request.Context(), code, service.MethodUpdateInput{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, setting)
}
