package main

import (
	"fmt"
	"time"

	"github.com/diancan-pay/internal/config"
	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"
	"github.com/diancan-pay/internal/service"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 默认管理员与内置支付方式
	if err := models.InitDefaultAdmin(cfg.Admin.Username, cfg.Admin.Password); err != nil {
		stdLog.Printf("Failed to init default admin: %v", err)
	}
	if err := models.InitDefaultPaymentMethods(); err != nil {
		stdLog.Printf("Failed to init payment methods: %v", err)
	}

	// 测试用户（登录密码与支付密码均为 123456）
	passwordHash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.DefaultCost)
	if err != nil {
		stdLog.Fatalf("Failed to hash password: %v", err)
	}
	users := []models.User{
		{Phone: "13800000001", DisplayName: "测试用户一", Status: constants.UserStatusActive},
		{Phone: "13800000002", DisplayName: "测试用户二", Status: constants.UserStatusActive},
		{Phone: "13800000003", DisplayName: "停用用户", Status: constants.UserStatusDisabled},
	}
	for i := range users {
		users[i].PasswordHash = string(passwordHash)
		users[i].PayPasswordHash = string(passwordHash)

		var existing models.User
		if err := models.DB.Where("phone = ?", users[i].Phone).First(&existing).Error; err != nil {
			if err := models.DB.Create(&users[i]).Error; err != nil {
				stdLog.Printf("Failed to create user %s: %v", users[i].Phone, err)
			} else {
				stdLog.Printf("Created user: %s", users[i].Phone)
			}
		} else {
			users[i] = existing
			stdLog.Printf("User already exists: %s", users[i].Phone)
		}
	}

	// 通过台账为测试用户充值，保证余额与流水一致
	ledger := service.NewBalanceLedgerService(repository.NewBalanceRepository(models.DB))
	recharges := []struct {
		Phone  string
		Amount string
	}{
		{Phone: "13800000001", Amount: "100.00"},
		{Phone: "13800000002", Amount: "50.00"},
	}
	for _, plan := range recharges {
		var user models.User
		if err := models.DB.Where("phone = ?", plan.Phone).First(&user).Error; err != nil {
			stdLog.Printf("Skip recharge for %s: user not found", plan.Phone)
			continue
		}
		amount, err := models.NewMoneyFromString(plan.Amount)
		if err != nil {
			stdLog.Printf("Skip recharge for %s: %v", plan.Phone, err)
			continue
		}
		err = ledger.Recharge(service.LedgerEntryInput{
			UserID:      user.ID,
			Amount:      amount,
			Reference:   fmt.Sprintf("seed:recharge:%d", user.ID),
			RelatedType: constants.BalanceRelatedTypeAdmin,
			Remark:      "种子数据充值",
		})
		if err != nil {
			stdLog.Printf("Failed to recharge %s: %v", plan.Phone, err)
		} else {
			stdLog.Printf("Recharged %s: %s", plan.Phone, plan.Amount)
		}
	}

	// 待支付测试订单
	expiresAt := time.Now().Add(30 * time.Minute)
	orders := []models.Order{
		{
			OrderNo:   "SEED202601010001",
			StoreName: "望江楼餐厅",
			ItemsJSON: models.JSON(map[string]interface{}{
				"items": []map[string]interface{}{
					{"name": "鱼香肉丝", "quantity": 1, "price": "32.00"},
					{"name": "米饭", "quantity": 2, "price": "4.00"},
				},
			}),
			Status:      constants.OrderStatusPendingPayment,
			Currency:    constants.DefaultCurrency,
			TotalAmount: models.NewMoneyFromDecimal(decimal.NewFromFloat(40.00)),
			ExpiresAt:   &expiresAt,
		},
		{
			OrderNo:   "SEED202601010002",
			StoreName: "江南小馆",
			ItemsJSON: models.JSON(map[string]interface{}{
				"items": []map[string]interface{}{
					{"name": "白切鸡", "quantity": 1, "price": "58.00"},
				},
			}),
			Status:      constants.OrderStatusPendingPayment,
			Currency:    constants.DefaultCurrency,
			TotalAmount: models.NewMoneyFromDecimal(decimal.NewFromFloat(58.00)),
			ExpiresAt:   &expiresAt,
		},
	}
	var firstUser models.User
	if err := models.DB.Where("phone = ?", "13800000001").First(&firstUser).Error; err != nil {
		stdLog.Fatalf("Seed user missing: %v", err)
	}
	for _, order := range orders {
		order.UserID = firstUser.ID
		var existing models.Order
		if err := models.DB.Where("order_no = ?", order.OrderNo).First(&existing).Error; err != nil {
			if err := models.DB.Create(&order).Error; err != nil {
				stdLog.Printf("Failed to create order %s: %v", order.OrderNo, err)
			} else {
				stdLog.Printf("Created order: %s", order.OrderNo)
			}
		} else {
			stdLog.Printf("Order already exists: %s", order.OrderNo)
		}
	}

	fmt.Println("\n✅ Test data created successfully!")
	fmt.Println("Summary:")
	fmt.Println("- 1 Admin (config admin.username / admin.password)")
	fmt.Println("- 3 Users (password 123456, pay password 123456)")
	fmt.Println("- 2 Balance recharges (100.00 / 50.00)")
	fmt.Println("- 2 Pending payment orders")
	fmt.Println("- 3 Payment method settings")
}
