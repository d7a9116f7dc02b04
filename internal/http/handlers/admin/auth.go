package admin

import (
	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 管理员账号密码登录
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	result, err := h.AuthService.AdminLogin(req.Username, req.Password)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"admin": gin.H{
			"id":       result.Admin.ID,
			"username": result.Admin.Username,
			"is_super": result.Admin.IsSuper,
		},
	})
}
