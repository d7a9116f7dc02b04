package public

import (
	"bytes"
	"io"
	"net/http"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/http/handlers/shared"
	"github.com/diancan-pay/internal/payment"

	"github.com/gin-gonic/gin"
)

// WechatNotify 微信支付异步通知
// 只有验签失败才返回非成功应答，其余情形一律应答成功避免重复推送。
func (h *Handler) WechatNotify(c *gin.Context) {
	raw, err := readRawNotification(c)
	if err != nil {
		shared.RequestLog(c).Warnw("notify_body_read_failed", "method", constants.PaymentMethodWechat, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "请求体读取失败"})
		return
	}
	result, err := h.PaymentService.HandleNotify(c.Request.Context(), constants.PaymentMethodWechat, raw)
	if err != nil || result == nil || !result.Acked {
		shared.RequestLog(c).Warnw("notify_rejected", "method", constants.PaymentMethodWechat, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "验签失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "message": "成功"})
}

// AlipayNotify 支付宝异步通知，应答纯文本 success/fail
func (h *Handler) AlipayNotify(c *gin.Context) {
	raw, err := readRawNotification(c)
	if err != nil {
		shared.RequestLog(c).Warnw("notify_body_read_failed", "method", constants.PaymentMethodAlipay, "error", err)
		c.String(http.StatusOK, "fail")
		return
	}
	result, err := h.PaymentService.HandleNotify(c.Request.Context(), constants.PaymentMethodAlipay, raw)
	if err != nil || result == nil || !result.Acked {
		shared.RequestLog(c).Warnw("notify_rejected", "method", constants.PaymentMethodAlipay, "error", err)
		c.String(http.StatusOK, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

// readRawNotification 把 HTTP 请求整理为网关无关的通知原文
func readRawNotification(c *gin.Context) (payment.RawNotification, error) {
	raw := payment.RawNotification{
		Headers: map[string]string{},
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return raw, err
	}
	raw.Body = body
	for key := range c.Request.Header {
		raw.Headers[key] = c.Request.Header.Get(key)
	}
	// 支付宝通知走表单编码，验签要用原始键值对；读完 body 后需重新填回再解析
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err := c.Request.ParseForm(); err == nil {
		raw.Form = c.Request.PostForm
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return raw, nil
}
