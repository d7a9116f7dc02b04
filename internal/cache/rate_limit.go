package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript 固定窗口计数限流
// 首次递增时设置窗口过期，计数超限返回 0。
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
	return 0
end
return 1
`)

// BuildRateLimitKey 构造限流键
func BuildRateLimitKey(scope, identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "unknown"
	}
	return fmt.Sprintf("ratelimit:%s:%s", scope, identity)
}

// AllowRequest 固定窗口限流判定
// Redis 未启用时放行，限流是保护层而非强依赖。
func AllowRequest(ctx context.Context, key string, window time.Duration, max int) (bool, error) {
	if !Enabled() || max <= 0 {
		return true, nil
	}
	seconds := int(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	result, err := rateLimitScript.Run(ctx, redisClient, []string{buildKey(key)}, seconds, max).Int()
	if err != nil {
		return true, err
	}
	return result == 1, nil
}
