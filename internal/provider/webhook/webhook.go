// Package webhook 调用 Webhook 的部署任务
package webhook

import (
	"context"
	"fmt"
	"strconv"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/notification"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/storage"
)

// Definition Webhook 通知
var Definition = model.ProviderDefinition{
	ID:          "webhook",
	Title:       "Webhook",
	Description: "向指定地址发送证书部署通知，请求体可使用 Go 模板",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "url", Name: "URL", Required: true},
		{Key: "method", Name: "请求方法", Description: "默认 POST"},
		{Key: "content_type", Name: "Content-Type", Description: "默认 application/json"},
		{Key: "body", Name: "请求体模板"},
		{Key: "retries", Name: "尝试次数", Description: "默认 3"},
	},
}

// Provider Webhook 部署提供商
type Provider struct{}

var _ provider.DeploymentProvider = Provider{}

// Definition 返回提供商元数据
func (Provider) Definition() model.ProviderDefinition {
	return Definition
}

// Execute 发送通知
func (Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, _ model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	url := cfg.Param("url", "")
	step := model.ActionStep{Category: "Webhook", Description: fmt.Sprintf("发送 Webhook 通知到 %s", url), HasChanged: true}
	if isPreviewOnly {
		return []model.ActionResult{model.Success(step.Description).WithSteps([]model.ActionStep{step})}, nil
	}

	retries := 0
	if raw := cfg.Param("retries", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: 无效的尝试次数 %q", model.ErrValidationFailure, raw)
		}
		retries = n
	}

	notifier := notification.NewWebhookNotifier(&notification.Config{
		Enabled:      true,
		URL:          url,
		Method:       cfg.Param("method", ""),
		ContentType:  cfg.Param("content_type", ""),
		BodyTemplate: cfg.Param("body", ""),
		Retries:      retries,
	}, log)

	primary := subject.PrimaryDomain()
	data := map[string]any{
		"cert_id":  subject.ID,
		"domains":  subject.Domains,
		"pfx_file": subject.CertificatePath,
		"task":     cfg.TaskName,
	}
	if bundle, err := storage.ReadManaged(subject); err == nil {
		data["thumbprint"] = bundle.Thumbprint()
		data["expiry"] = bundle.Certificate.NotAfter
	}

	if err := notifier.Notify(ctx, notification.EventCertDeployed, primary, fmt.Sprintf("证书已部署: %s", primary), data); err != nil {
		return nil, err
	}
	return []model.ActionResult{model.Success("Webhook 通知已发送").WithSteps([]model.ActionStep{step})}, nil
}
