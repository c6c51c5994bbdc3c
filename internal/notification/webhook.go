// Package notification 证书事件的 Webhook 通知
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

// EventType 事件类型
type EventType string

const (
	EventCertExpiring         EventType = "cert_expiring"     // 证书即将过期
	EventCertRenewed          EventType = "cert_renewed"      // 证书申请/续期成功
	EventCertFailed           EventType = "cert_failed"       // 证书申请失败
	EventDNSValidationTimeout EventType = "dns_timeout"       // DNS 验证超时
	EventCertDeployed         EventType = "cert_deployed"     // 部署任务通知
	EventDeploymentFailed     EventType = "deployment_failed" // 部署任务失败
)

// Config Webhook 配置
type Config struct {
	Enabled      bool              `yaml:"enabled"`
	URL          string            `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Method       string            `yaml:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH"`
	ContentType  string            `yaml:"content_type,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`       // 自定义请求头
	Events       []string          `yaml:"events,omitempty"`        // 订阅的事件类型，为空时发送全部
	Timeout      int               `yaml:"timeout,omitempty"`       // 请求超时时间（秒），默认30
	Retries      int               `yaml:"retries,omitempty"`       // 尝试次数，默认3
	BodyTemplate string            `yaml:"body_template,omitempty"` // 请求体模板
}

// ForRequest 根据证书申请配置生成 Webhook 配置，未配置时返回 nil
func ForRequest(rc *model.CertRequestConfig) *Config {
	if rc == nil || rc.WebhookURL == "" || rc.WebhookTrigger == "" || rc.WebhookTrigger == model.WebhookTriggerNone {
		return nil
	}
	return &Config{
		Enabled:      true,
		URL:          rc.WebhookURL,
		Method:       rc.WebhookMethod,
		ContentType:  rc.WebhookContentType,
		BodyTemplate: rc.WebhookContentBody,
	}
}

// TriggerMatches 判断本次结果是否满足触发条件
func TriggerMatches(trigger model.WebhookTrigger, success bool) bool {
	switch trigger {
	case model.WebhookTriggerAlways:
		return true
	case model.WebhookTriggerOnSuccess:
		return success
	case model.WebhookTriggerOnError:
		return !success
	default:
		return false
	}
}

// EventData 事件数据
type EventData struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Domain    string         `json:"domain"`
	Timestamp string         `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config  *Config
	client  *http.Client
	log     logging.Logger
	backoff time.Duration
}

// NewWebhookNotifier 创建 Webhook 通知器，未启用时返回 nil
func NewWebhookNotifier(cfg *Config, log logging.Logger) *WebhookNotifier {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = logging.Nop
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WebhookNotifier{
		config:  cfg,
		client:  &http.Client{Timeout: timeout},
		log:     log,
		backoff: time.Second,
	}
}

// ShouldNotify 检查是否应该发送该事件的通知
func (w *WebhookNotifier) ShouldNotify(eventType EventType) bool {
	if !w.IsEnabled() {
		return false
	}

	if len(w.config.Events) == 0 {
		return true
	}

	for _, e := range w.config.Events {
		if e == string(eventType) {
			return true
		}
	}
	return false
}

// Notify 发送通知
func (w *WebhookNotifier) Notify(ctx context.Context, eventType EventType, domain, message string, data map[string]any) error {
	if !w.ShouldNotify(eventType) {
		return nil
	}

	eventData := EventData{
		ID:        uuid.NewString(),
		Event:     string(eventType),
		Domain:    domain,
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   message,
		Data:      data,
	}

	body, err := w.body(eventData)
	if err != nil {
		return err
	}

	retries := w.config.Retries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			// 指数退避：1s, 2s, 4s
			backoff := w.backoff * time.Duration(1<<uint(i-1))
			w.log.Warning("[Webhook] 通知失败，%v 后重试 (第 %d/%d 次): %v", backoff, i+1, retries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lastErr = w.send(ctx, eventData.ID, body); lastErr == nil {
			w.log.Information("[Webhook] 通知发送成功: %s (事件: %s, 域名: %s)", w.config.URL, eventType, domain)
			return nil
		}
	}

	w.log.Error("[Webhook] 通知发送失败 (已尝试 %d 次): %v", retries, lastErr)
	return lastErr
}

func (w *WebhookNotifier) send(ctx context.Context, deliveryID string, body []byte) error {
	method := strings.ToUpper(w.config.Method)
	if method == "" {
		method = http.MethodPost
	}
	contentType := w.config.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Delivery-ID", deliveryID)
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}

// body 生成请求体，模板渲染失败时回退到 JSON
func (w *WebhookNotifier) body(data EventData) ([]byte, error) {
	if w.config.BodyTemplate != "" {
		body, err := renderTemplate(w.config.BodyTemplate, data)
		if err == nil {
			return body, nil
		}
		w.log.Warning("[Webhook] 渲染请求体模板失败: %v", err)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("序列化事件数据失败: %w", err)
	}
	return body, nil
}

// renderTemplate 渲染模板
func renderTemplate(tmplStr string, data EventData) ([]byte, error) {
	tmplData := map[string]any{
		"ID":        data.ID,
		"Event":     data.Event,
		"Domain":    data.Domain,
		"Timestamp": data.Timestamp,
		"Message":   data.Message,
		"Data":      data.Data,
	}

	funcMap := template.FuncMap{
		"toJson": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return string(b)
		},
	}

	tmpl, err := template.New("webhook").Funcs(funcMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tmplData); err != nil {
		return nil, fmt.Errorf("渲染模板失败: %w", err)
	}
	return buf.Bytes(), nil
}

// NotifyCertExpiring 通知证书即将过期
func (w *WebhookNotifier) NotifyCertExpiring(ctx context.Context, domain string, daysRemaining int) error {
	message := fmt.Sprintf("证书即将过期: %s (剩余 %d 天)", domain, daysRemaining)
	return w.Notify(ctx, EventCertExpiring, domain, message, map[string]any{"days_remaining": daysRemaining})
}

// NotifyCertRenewed 通知证书申请/续期成功
func (w *WebhookNotifier) NotifyCertRenewed(ctx context.Context, domain string, certID string) error {
	message := fmt.Sprintf("证书申请/续期成功: %s", domain)
	return w.Notify(ctx, EventCertRenewed, domain, message, map[string]any{"cert_id": certID})
}

// NotifyCertFailed 通知证书申请失败
func (w *WebhookNotifier) NotifyCertFailed(ctx context.Context, domain string, reason string) error {
	message := fmt.Sprintf("证书申请失败: %s", domain)
	return w.Notify(ctx, EventCertFailed, domain, message, map[string]any{"reason": reason})
}

// NotifyDNSValidationTimeout 通知 DNS 验证超时
func (w *WebhookNotifier) NotifyDNSValidationTimeout(ctx context.Context, domain string, orderID string) error {
	message := fmt.Sprintf("DNS 验证超时: %s (订单: %s)", domain, orderID)
	return w.Notify(ctx, EventDNSValidationTimeout, domain, message, map[string]any{"order_id": orderID})
}

// NotifyDeploymentFailed 通知部署任务失败
func (w *WebhookNotifier) NotifyDeploymentFailed(ctx context.Context, domain string, failures []string) error {
	message := fmt.Sprintf("证书部署失败: %s", domain)
	return w.Notify(ctx, EventDeploymentFailed, domain, message, map[string]any{"failures": failures})
}

// IsEnabled 检查是否启用
func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.config != nil && w.config.Enabled
}
