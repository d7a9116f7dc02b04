package payment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// 网关层统一错误
// 适配器内部错误在 Gateway 接口边界统一收敛为这三类。
var (
	ErrUnavailable      = errors.New("payment gateway unavailable")
	ErrRejected         = errors.New("payment gateway rejected")
	ErrSignatureInvalid = errors.New("payment notification signature invalid")
)

// 网关请求默认超时
const DefaultTimeout = 12 * time.Second

// InitiateInput 网关下单输入
type InitiateInput struct {
	PaymentNo string
	Amount    string
	Currency  string
	Subject   string
	ClientIP  string
	ExpireAt  *time.Time
	Attach    string
}

// InitiateResult 网关下单返回
type InitiateResult struct {
	PayURL     string
	QRCode     string
	PrepayID   string
	GatewayRef string
	Raw        map[string]interface{}
}

// RawNotification 网关异步通知原始载荷
type RawNotification struct {
	Headers map[string]string
	Body    []byte
	Form    map[string][]string
}

// Notification 验签解析后的通知内容
// SignatureValid 为 false 时调用方必须整体丢弃，不做任何状态变更。
type Notification struct {
	PaymentNo      string
	GatewayRef     string
	TransactionID  string
	Outcome        string
	Amount         string
	Currency       string
	SignatureValid bool
	Raw            map[string]interface{}
}

// StatusResult 网关侧支付状态查询返回
// 查询超时报告 unknown，不推断成功。
type StatusResult struct {
	Outcome       string
	TransactionID string
	Amount        string
	Raw           map[string]interface{}
}

// RefundInput 网关退款输入
type RefundInput struct {
	PaymentNo   string
	RefundNo    string
	Amount      string
	TotalAmount string
	Currency    string
	Reason      string
}

// RefundResult 网关退款受理返回
type RefundResult struct {
	RefundRef string
	Accepted  bool
	Raw       map[string]interface{}
}

// RefundStatusResult 网关退款进度查询返回
type RefundStatusResult struct {
	Outcome string
	Amount  string
	Raw     map[string]interface{}
}

// Gateway 支付网关能力接口
// 微信与支付宝各自实现；余额支付不经网关，由账本直接结算。
type Gateway interface {
	Method() string
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	ParseNotification(ctx context.Context, raw RawNotification) (*Notification, error)
	QueryStatus(ctx context.Context, paymentNo string) (*StatusResult, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
	QueryRefund(ctx context.Context, paymentNo, refundNo string) (*RefundStatusResult, error)
}

// Registry 网关注册表
// 按支付方式编码分发，新增方式注册新实现即可。
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry 创建网关注册表
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register 注册网关实现
func (r *Registry) Register(gateway Gateway) {
	if gateway == nil {
		return
	}
	method := strings.ToLower(strings.TrimSpace(gateway.Method()))
	if method == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[method] = gateway
}

// Get 获取支付方式对应的网关
func (r *Registry) Get(method string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gateway, ok := r.gateways[strings.ToLower(strings.TrimSpace(method))]
	return gateway, ok
}

// Methods 返回已注册的支付方式编码
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.gateways))
	for method := range r.gateways {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
