package router

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(t *testing.T, method, target string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("构造测试请求失败: %v", err)
	}
	c.Request = req
	return c, recorder
}

func TestResolveAllowedOrigin(t *testing.T) {
	cases := []struct {
		name             string
		origin           string
		allowed          []string
		allowCredentials bool
		want             string
	}{
		{"通配符", "https://a.example.com", []string{"*"}, false, "*"},
		{"通配符携带凭证回显来源", "https://a.example.com", []string{"*"}, true, "https://a.example.com"},
		{"精确匹配忽略大小写", "https://A.Example.Com", []string{"https://a.example.com"}, false, "https://A.Example.Com"},
		{"不在白名单", "https://evil.example.com", []string{"https://a.example.com"}, false, ""},
		{"缺少来源头", "", []string{"https://a.example.com"}, false, ""},
		{"空白名单", "https://a.example.com", nil, false, ""},
	}
	for _, c := range cases {
		if got := resolveAllowedOrigin(c.origin, c.allowed, c.allowCredentials); got != c.want {
			t.Errorf("%s: resolveAllowedOrigin = %q, 期望 %q", c.name, got, c.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	c, _ := newTestContext(t, http.MethodGet, "/payments", "")
	c.Request.Header.Set("Authorization", "Bearer token-123")
	token, ok := bearerToken(c)
	if !ok || token != "token-123" {
		t.Fatalf("bearerToken = (%q, %v)", token, ok)
	}

	c, _ = newTestContext(t, http.MethodGet, "/payments", "")
	if _, ok := bearerToken(c); ok {
		t.Fatal("缺少 Authorization 头不应解析成功")
	}

	c, _ = newTestContext(t, http.MethodGet, "/payments", "")
	c.Request.Header.Set("Authorization", "Basic abc")
	if _, ok := bearerToken(c); ok {
		t.Fatal("非 Bearer 方案不应解析成功")
	}

	c, _ = newTestContext(t, http.MethodGet, "/payments", "")
	c.Request.Header.Set("Authorization", "Bearer")
	if _, ok := bearerToken(c); ok {
		t.Fatal("缺少令牌不应解析成功")
	}
}

func TestIsActiveUserStatus(t *testing.T) {
	if !isActiveUserStatus(" Active ") {
		t.Fatal("active 状态判定失败")
	}
	for _, status := range []string{"disabled", "", "banned"} {
		if isActiveUserStatus(status) {
			t.Fatalf("%q 不应视为启用状态", status)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, getRequestID(c))
	})

	// 透传调用方传入的请求 ID
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-incoming-001")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	if recorder.Header().Get("X-Request-ID") != "req-incoming-001" {
		t.Fatalf("应透传请求 ID, got %q", recorder.Header().Get("X-Request-ID"))
	}
	if recorder.Body.String() != "req-incoming-001" {
		t.Fatalf("上下文请求 ID 异常: %q", recorder.Body.String())
	}

	// 未传入时自动生成
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatal("缺少请求 ID 时应自动生成")
	}
}

func TestKeyByIPAndJSONField(t *testing.T) {
	keyFunc := KeyByIPAndJSONField("phone")

	c, _ := newTestContext(t, http.MethodPost, "/auth/login", `{"phone":" 13800000001 ","password":"x"}`)
	key := keyFunc(c)
	if !strings.HasPrefix(key, "13800000001|") {
		t.Fatalf("限流 key 应包含手机号: %q", key)
	}

	// 读取后请求体必须可重复读取
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		t.Fatalf("重读请求体失败: %v", err)
	}
	if !bytes.Contains(body, []byte("13800000001")) {
		t.Fatalf("请求体应被回填: %s", body)
	}

	// 缺少字段或非法 JSON 时退回 IP
	c, _ = newTestContext(t, http.MethodPost, "/auth/login", `{"password":"x"}`)
	if got := keyFunc(c); got != c.ClientIP() {
		t.Fatalf("缺少字段应退回 IP: %q", got)
	}
	c, _ = newTestContext(t, http.MethodPost, "/auth/login", `not-json`)
	if got := keyFunc(c); got != c.ClientIP() {
		t.Fatalf("非法 JSON 应退回 IP: %q", got)
	}
	c, _ = newTestContext(t, http.MethodPost, "/auth/login", "")
	if got := keyFunc(c); got != c.ClientIP() {
		t.Fatalf("空请求体应退回 IP: %q", got)
	}
}

func TestRateLimitMiddlewarePassThrough(t *testing.T) {
	engine := gin.New()
	// 规则未配置与 Redis 未启用均放行
	engine.GET("/a", RateLimitMiddleware(RateLimitRule{Scope: "test"}, KeyByIP), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	engine.GET("/b", RateLimitMiddleware(RateLimitRule{Scope: "test", Window: time.Minute, Max: 1}, KeyByIP), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/a", "/b", "/b", "/b"} {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s 应放行, got %d", path, recorder.Code)
		}
	}
}
