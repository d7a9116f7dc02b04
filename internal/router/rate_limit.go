package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diancan-pay/internal/cache"
	"github.com/diancan-pay/internal/config"
	"github.com/diancan-pay/internal/http/response"
	"github.com/diancan-pay/internal/logger"

	"github.com/gin-gonic/gin"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 限流规则
type RateLimitRule struct {
	Scope   string
	Window  time.Duration
	Max     int
	Message string
}

// BuildRateLimitRule 从配置构造限流规则
func BuildRateLimitRule(scope string, cfg config.RateLimitConfig, message string) RateLimitRule {
	return RateLimitRule{
		Scope:   scope,
		Window:  time.Duration(cfg.WindowSeconds) * time.Second,
		Max:     cfg.MaxRequests,
		Message: message,
	}
}

// RateLimitMiddleware 固定窗口限流中间件
// Redis 未启用或脚本失败时放行，限流是保护层而非强依赖。
func RateLimitMiddleware(rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rule.Max <= 0 || rule.Window <= 0 {
			c.Next()
			return
		}

		identity := ""
		if keyFunc != nil {
			identity = strings.TrimSpace(keyFunc(c))
		}
		if identity == "" {
			identity = c.ClientIP()
		}
		key := cache.BuildRateLimitKey(rule.Scope, identity)

		allowed, err := cache.AllowRequest(c.Request.Context(), key, rule.Window, rule.Max)
		if err != nil {
			logger.Warnw("rate_limit_check_failed", "scope", rule.Scope, "error", err)
			c.Next()
			return
		}
		if !allowed {
			message := rule.Message
			if message == "" {
				message = "请求过于频繁，请稍后再试"
			}
			response.Error(c, response.CodeTooManyRequests, message)
			c.Abort()
			return
		}

		c.Next()
	}
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByIPAndJSONField 使用 IP + JSON 字段作为限流 key
func KeyByIPAndJSONField(field string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		value := strings.ToLower(strings.TrimSpace(readJSONField(c, field)))
		if value == "" {
			return c.ClientIP()
		}
		return fmt.Sprintf("%s|%s", value, c.ClientIP())
	}
}

func readJSONField(c *gin.Context, field string) string {
	if c == nil || c.Request == nil || c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	value, ok := payload[field]
	if !ok {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return ""
}
