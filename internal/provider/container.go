package provider

import (
	"strings"

	"github.com/diancan-pay/internal/authz"
	"github.com/diancan-pay/internal/cache"
	"github.com/diancan-pay/internal/config"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/payment"
	"github.com/diancan-pay/internal/payment/alipay"
	"github.com/diancan-pay/internal/payment/wechatpay"
	"github.com/diancan-pay/internal/queue"
	"github.com/diancan-pay/internal/repository"
	"github.com/diancan-pay/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Gateways    *payment.Registry

	// Repositories
	AdminRepo   repository.AdminRepository
	UserRepo    repository.UserRepository
	OrderRepo   repository.OrderRepository
	PaymentRepo repository.PaymentRepository
	BalanceRepo repository.BalanceRepository
	MethodRepo  repository.PaymentMethodRepository

	// Services
	AuthzService   *authz.Service
	AuthService    *service.AuthService
	LedgerService  *service.BalanceLedgerService
	PaymentService *service.PaymentService
	MethodService  *service.MethodService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	c.initRepositories()
	c.initGateways()
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.UserRepo = repository.NewUserRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.BalanceRepo = repository.NewBalanceRepository(db)
	c.MethodRepo = repository.NewPaymentMethodRepository(db)
}

// initGateways 按配置注册网关实现
// 商户参数缺失的网关不注册，对应支付方式自然不可分发。
func (c *Container) initGateways() {
	registry := payment.NewRegistry()

	wechatCfg := &wechatpay.Config{
		AppID:      c.Config.Payment.Wechatpay.AppID,
		MchID:      c.Config.Payment.Wechatpay.MchID,
		CertSerial: c.Config.Payment.Wechatpay.CertSerial,
		PrivateKey: c.Config.Payment.Wechatpay.PrivateKey,
		APIv3Key:   c.Config.Payment.Wechatpay.APIv3Key,
		NotifyURL:  c.Config.Payment.Wechatpay.NotifyURL,
	}
	if err := wechatpay.ValidateConfig(wechatCfg); err != nil {
		logger.Warnw("gateway_wechatpay_unconfigured", "error", err)
	} else {
		registry.Register(wechatpay.NewGateway(wechatCfg))
	}

	alipayCfg := &alipay.Config{
		AppID:           c.Config.Payment.Alipay.AppID,
		GatewayURL:      c.Config.Payment.Alipay.GatewayURL,
		PrivateKey:      c.Config.Payment.Alipay.PrivateKey,
		AlipayPublicKey: c.Config.Payment.Alipay.AlipayPublicKey,
		NotifyURL:       c.Config.Payment.Alipay.NotifyURL,
		ReturnURL:       c.Config.Payment.Alipay.ReturnURL,
	}
	if err := alipay.ValidateConfig(alipayCfg); err != nil {
		logger.Warnw("gateway_alipay_unconfigured", "error", err)
	} else {
		registry.Register(alipay.NewGateway(alipayCfg))
	}

	logger.Infow("gateways_registered", "methods", strings.Join(registry.Methods(), ","))
	c.Gateways = registry
}

func (c *Container) initServices() {
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
	} else {
		if err := authzService.BootstrapBuiltinRoles(); err != nil {
			logger.Errorw("provider_bootstrap_roles_failed", "error", err)
		}
		c.AuthzService = authzService
	}

	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo, c.UserRepo)
	c.LedgerService = service.NewBalanceLedgerService(c.BalanceRepo)
	c.MethodService = service.NewMethodService(c.MethodRepo)
	c.PaymentService = service.NewPaymentService(
		c.PaymentRepo,
		c.OrderRepo,
		c.UserRepo,
		c.MethodRepo,
		c.LedgerService,
		c.Gateways,
		c.QueueClient,
		&c.Config.Payment,
	)
}
