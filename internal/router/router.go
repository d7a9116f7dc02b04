package router

import (
	"github.com/diancan-pay/internal/config"
	adminhandlers "github.com/diancan-pay/internal/http/handlers/admin"
	publichandlers "github.com/diancan-pay/internal/http/handlers/public"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	loginRule := BuildRateLimitRule("login", cfg.Security.LoginRateLimit, "登录尝试过于频繁，请稍后再试")
	adminLoginRule := BuildRateLimitRule("admin_login", cfg.Security.LoginRateLimit, "登录尝试过于频繁，请稍后再试")
	notifyRule := BuildRateLimitRule("notify", cfg.Security.NotifyRateLimit, "通知请求过于频繁")

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// 登录接口
	auth := r.Group("/auth")
	{
		auth.POST("/login", RateLimitMiddleware(loginRule, KeyByIPAndJSONField("phone")), publicHandler.Login)
		auth.POST("/admin/login", RateLimitMiddleware(adminLoginRule, KeyByIP), adminHandler.Login)
	}

	// 网关异步通知：不鉴权，靠验签拒绝伪造请求
	r.POST("/payments/wechatpay/notify", RateLimitMiddleware(notifyRule, KeyByIP), publicHandler.WechatNotify)
	r.POST("/payments/alipay/notify", RateLimitMiddleware(notifyRule, KeyByIP), publicHandler.AlipayNotify)

	// 用户接口（需鉴权）
	user := r.Group("")
	user.Use(UserJWTMiddleware(c.AuthService, c.UserRepo))
	{
		user.POST("/payments/create", publicHandler.CreatePayment)
		user.POST("/payments/wechatpay", publicHandler.DispatchWechat)
		user.POST("/payments/alipay", publicHandler.DispatchAlipay)
		user.GET("/payments/:id/status", publicHandler.GetPaymentStatus)
		user.PUT("/payments/:id/cancel", publicHandler.CancelPayment)
		user.POST("/payments/:id/refund", publicHandler.RefundPayment)
		user.GET("/payments/:id/refund-status", publicHandler.GetRefundStatus)
		user.GET("/payments/methods/list", publicHandler.ListMethods)
		user.GET("/payments/history", publicHandler.ListHistory)
		user.GET("/payments/bills", publicHandler.GetBills)
		user.GET("/balance", publicHandler.GetBalance)
		user.GET("/balance/transactions", publicHandler.ListBalanceTransactions)
	}

	// 对账报表走管理端鉴权
	reconciliation := r.Group("")
	reconciliation.Use(AdminJWTMiddleware(c.AuthService, c.AdminRepo), AdminRBACMiddleware(c.AuthzService))
	{
		reconciliation.GET("/payments/reconciliation", adminHandler.GetReconciliation)
	}

	// 管理员接口
	admin := r.Group("/admin")
	admin.Use(AdminJWTMiddleware(c.AuthService, c.AdminRepo), AdminRBACMiddleware(c.AuthzService))
	{
		admin.GET("/payments", adminHandler.ListPayments)
		admin.GET("/payments/reconciliation", adminHandler.GetReconciliation)
		admin.GET("/payments/:id", adminHandler.GetPayment)
		admin.GET("/payment-methods", adminHandler.ListMethods)
		admin.PUT("/payment-methods/:code", adminHandler.UpdateMethod)
		admin.POST("/balances/:userId/recharge", adminHandler.RechargeBalance)
		admin.POST("/balances/:userId/deduct", adminHandler.DeductBalance)
		admin.GET("/roles", adminHandler.ListRoles)
		admin.POST("/roles", adminHandler.CreateRole)
		admin.DELETE("/roles/:role", adminHandler.DeleteRole)
		admin.GET("/roles/:role/policies", adminHandler.GetRolePolicies)
		admin.POST("/roles/:role/policies", adminHandler.GrantRolePolicy)
		admin.DELETE("/roles/:role/policies", adminHandler.RevokeRolePolicy)
		admin.GET("/admins/:id/roles", adminHandler.GetAdminRoles)
		admin.PUT("/admins/:id/roles", adminHandler.SetAdminRoles)
	}

	// 健康检查
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
