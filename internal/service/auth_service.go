package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diancan-pay/internal/config"
	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService 认证服务
// 管理员走 jwt 配置，用户走 user_jwt 配置，密钥与有效期相互独立。
type AuthService struct {
	cfg       *config.Config
	adminRepo repository.AdminRepository
	userRepo  repository.UserRepository
}

// NewAuthService 创建认证服务实例
func NewAuthService(cfg *config.Config, adminRepo repository.AdminRepository, userRepo repository.UserRepository) *AuthService {
	return &AuthService{
		cfg:       cfg,
		adminRepo: adminRepo,
		userRepo:  userRepo,
	}
}

// HashPassword 使用 bcrypt 加密密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword 验证密码
func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// CheckPayPassword 校验用户支付密码（余额支付前置校验）
func CheckPayPassword(user *models.User, payPassword string) error {
	if user == nil {
		return ErrUserNotFound
	}
	if strings.TrimSpace(user.PayPasswordHash) == "" {
		return ErrPayPasswordNotSet
	}
	if strings.TrimSpace(payPassword) == "" {
		return fmt.Errorf("%w: 缺少支付密码", ErrInvalidInput)
	}
	if err := VerifyPassword(user.PayPasswordHash, payPassword); err != nil {
		return ErrPayPasswordIncorrect
	}
	return nil
}

// AdminJWTClaims 管理员 JWT 声明
type AdminJWTClaims struct {
	AdminID  uint   `json:"admin_id"`
	Username string `json:"username"`
	IsSuper  bool   `json:"is_super"`
	jwt.RegisteredClaims
}

// UserJWTClaims 用户 JWT 声明
type UserJWTClaims struct {
	UserID uint   `json:"user_id"`
	Phone  string `json:"phone"`
	jwt.RegisteredClaims
}

// AdminLoginResult 管理员登录结果
type AdminLoginResult struct {
	Admin     *models.Admin `json:"admin"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// UserLoginResult 用户登录结果
type UserLoginResult struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// AdminLogin 管理员账号密码登录
func (s *AuthService) AdminLogin(username, password string) (*AdminLoginResult, error) {
	admin, err := s.adminRepo.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrPasswordIncorrect
	}
	if err := VerifyPassword(admin.PasswordHash, password); err != nil {
		logger.Warnw("admin_login_password_incorrect", "username", username)
		return nil, ErrPasswordIncorrect
	}
	token, expiresAt, err := s.GenerateAdminJWT(admin)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	admin.LastLoginAt = &now
	if err := s.adminRepo.Update(admin); err != nil {
		logger.Warnw("admin_last_login_update_failed", "admin_id", admin.ID, "error", err)
	}
	logger.Infow("admin_login_success", "admin_id", admin.ID, "username", admin.Username)
	return &AdminLoginResult{Admin: admin, Token: token, ExpiresAt: expiresAt}, nil
}

// UserLogin 用户手机号密码登录
func (s *AuthService) UserLogin(phone, password string) (*UserLoginResult, error) {
	user, err := s.userRepo.GetByPhone(strings.TrimSpace(phone))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrPasswordIncorrect
	}
	if user.Status != constants.UserStatusActive {
		return nil, ErrUserDisabled
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		logger.Warnw("user_login_password_incorrect", "phone", phone)
		return nil, ErrPasswordIncorrect
	}
	token, expiresAt, err := s.GenerateUserJWT(user)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	user.LastLoginAt = &now
	if err := s.userRepo.Update(user); err != nil {
		logger.Warnw("user_last_login_update_failed", "user_id", user.ID, "error", err)
	}
	logger.Infow("user_login_success", "user_id", user.ID)
	return &UserLoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// GenerateAdminJWT 生成管理员 Token
func (s *AuthService) GenerateAdminJWT(admin *models.Admin) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(s.cfg.JWT.ExpireHours) * time.Hour)
	claims := AdminJWTClaims{
		AdminID:  admin.ID,
		Username: admin.Username,
		IsSuper:  admin.IsSuper,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.JWT.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseAdminJWT 解析管理员 Token
func (s *AuthService) ParseAdminJWT(tokenString string) (*AdminJWTClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*AdminJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GenerateUserJWT 生成用户 Token
func (s *AuthService) GenerateUserJWT(user *models.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(s.cfg.UserJWT.ExpireHours) * time.Hour)
	claims := UserJWTClaims{
		UserID: user.ID,
		Phone:  user.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.UserJWT.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseUserJWT 解析用户 Token
func (s *AuthService) ParseUserJWT(tokenString string) (*UserJWTClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &UserJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.UserJWT.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*UserJWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// EnsureDefaultAdmin 初始化默认管理员（已存在则跳过）
func (s *AuthService) EnsureDefaultAdmin(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	existing, err := s.adminRepo.GetByUsername(username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	admin := &models.Admin{
		Username:     username,
		PasswordHash: hash,
		IsSuper:      true,
	}
	if err := s.adminRepo.Create(admin); err != nil {
		return err
	}
	logger.Infow("default_admin_created", "username", username)
	return nil
}
