package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const numberRandDigits = 6

// GeneratePaymentNo 生成支付单号
// 时间戳前缀 + 加密随机后缀，无需中心协调即可全局唯一。
func GeneratePaymentNo() string {
	return buildNumber("P")
}

// GenerateRefundNo 生成退款单号
func GenerateRefundNo() string {
	return buildNumber("R")
}

func buildNumber(prefix string) string {
	now := time.Now()
	return fmt.Sprintf("%s%s%s", prefix, now.Format("20060102150405"), randomDigits(numberRandDigits))
}

// randomDigits 生成指定位数的随机数字串
func randomDigits(n int) string {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max = max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		// 随机源失败时退化为纳秒取模，保持可用
		return fmt.Sprintf("%0*d", n, time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("%0*d", n, v)
}
