package admin

import (
	"errors"
	"strconv"

	"github.com/diancan-pay/internal/authz"
	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/http/response"

	"github.com/gin-gonic/gin"
)

type createRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type rolePolicyRequest struct {
	Object string `json:"object" binding:"required"`
	Action string `json:"action" binding:"required"`
}

type setAdminRolesRequest struct {
	Roles []string `json:"roles"`
}

// ListRoles 角色列表（含内建角色）
func (h *Handler) ListRoles(c *gin.Context) {
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	response.Success(c, gin.H{"roles": roles})
}

// CreateRole 创建自定义角色
func (h *Handler) CreateRole(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	role, err := h.AuthzService.EnsureRole(req.Role)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	shared.RequestLog(c).Infow("admin_role_created", "admin_id", adminID, "role", role)
	response.Success(c, gin.H{"role": role})
}

// DeleteRole 删除自定义角色（内建角色拒绝删除）
func (h *Handler) DeleteRole(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	role := c.Param("role")
	if err := h.AuthzService.DeleteRole(role); err != nil {
		respondAuthzError(c, err)
		return
	}
	shared.RequestLog(c).Infow("admin_role_deleted", "admin_id", adminID, "role", role)
	response.Success(c, nil)
}

// GetRolePolicies 查询角色直连策略
func (h *Handler) GetRolePolicies(c *gin.Context) {
	policies, err := h.AuthzService.GetRolePolicies(c.Param("role"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	response.Success(c, gin.H{"policies": policies})
}

// GrantRolePolicy 为角色授予策略
func (h *Handler) GrantRolePolicy(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	role := c.Param("role")
	var req rolePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	if err := h.AuthzService.GrantRolePolicy(role, req.Object, req.Action); err != nil {
		respondAuthzError(c, err)
		return
	}
	shared.RequestLog(c).Infow("admin_role_policy_granted",
		"admin_id", adminID,
		"role", role,
		"object", req.Object,
		"action", req.Action,
	)
	response.Success(c, nil)
}

// RevokeRolePolicy 撤销角色策略（object/action 走查询参数）
func (h *Handler) RevokeRolePolicy(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	role := c.Param("role")
	object := c.Query("object")
	action := c.Query("action")
	if object == "" || action == "" {
		shared.RespondError(c, response.CodeBadRequest, "object 与 action 不能为空", nil)
		return
	}
	if err := h.AuthzService.RevokeRolePolicy(role, object, action); err != nil {
		respondAuthzError(c, err)
		return
	}
	shared.RequestLog(c).Infow("admin_role_policy_revoked",
		"admin_id", adminID,
		"role", role,
		"object", object,
		"action", action,
	)
	response.Success(c, nil)
}

// GetAdminRoles 查询管理员角色及生效策略
func (h *Handler) GetAdminRoles(c *gin.Context) {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || targetID == 0 {
		shared.RespondError(c, response.CodeBadRequest, "管理员 ID 无效", err)
		return
	}
	roles, err := h.AuthzService.GetAdminRoles(uint(targetID))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	policies, err := h.AuthzService.GetAdminPolicies(uint(targetID))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	response.Success(c, gin.H{"roles": roles, "policies": policies})
}

// SetAdminRoles 覆盖设置管理员角色
func (h *Handler) SetAdminRoles(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || targetID == 0 {
		shared.RespondError(c, response.CodeBadRequest, "管理员 ID 无效", err)
		return
	}
	var req setAdminRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		shared.RespondError(c, response.CodeBadRequest, "请求参数无效", err)
		return
	}
	if err := h.AuthzService.SetAdminRoles(uint(targetID), req.Roles); err != nil {
		respondAuthzError(c, err)
		return
	}
	roles, err := h.AuthzService.GetAdminRoles(uint(targetID))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	shared.RequestLog(c).Infow("admin_roles_assigned",
		"admin_id", adminID,
		"target_admin_id", targetID,
		"roles", roles,
	)
	response.Success(c, gin.H{"roles": roles})
}

// respondAuthzError 角色管理面哨兵错误映射
func respondAuthzError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authz.ErrRoleInvalid):
		shared.RespondError(c, response.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, authz.ErrRoleProtected):
		shared.RespondError(c, response.CodeForbidden, err.Error(), nil)
	default:
		shared.RespondError(c, response.CodeInternal, "服务器开小差了，请稍后再试", err)
	}
}
