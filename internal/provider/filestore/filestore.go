// Package filestore 将 PFX 证书复制到文件夹的部署任务
package filestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/storage"
)

// Definition 文件夹证书存储
var Definition = model.ProviderDefinition{
	ID:          "folder-pfx",
	Title:       "Deploy to Folder (PFX)",
	Description: "将 PFX 证书写入 <path>/<域名>.pfx，通配符替换为下划线",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "path", Name: "目标目录", Required: true},
	},
}

// Provider 文件夹部署提供商
type Provider struct{}

var _ provider.DeploymentProvider = Provider{}

// Definition 返回提供商元数据
func (Provider) Definition() model.ProviderDefinition {
	return Definition
}

// TargetPath 证书在存储目录中的路径
func TargetPath(storePath, primaryDomain string) string {
	return filepath.Join(storePath, domain.FileName(primaryDomain)+".pfx")
}

// Execute 复制 PFX 文件
func (Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, _ model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	if subject == nil || subject.CertificatePath == "" {
		return nil, fmt.Errorf("%w: 受管证书尚未签发", model.ErrConfigurationMissing)
	}
	data, err := os.ReadFile(subject.CertificatePath)
	if err != nil {
		return nil, fmt.Errorf("读取PFX失败: %w", err)
	}

	target := TargetPath(cfg.Param("path", ""), subject.PrimaryDomain())

	if current, err := os.ReadFile(target); err == nil && bytes.Equal(current, data) {
		msg := fmt.Sprintf("%s 已是最新证书", target)
		return []model.ActionResult{model.Success(msg).WithSteps([]model.ActionStep{{Category: "File", Description: msg}})}, nil
	}

	step := model.ActionStep{Category: "File", Description: fmt.Sprintf("写入证书 %s", target), HasChanged: true}
	if isPreviewOnly {
		return []model.ActionResult{model.Success(step.Description).WithSteps([]model.ActionStep{step})}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}
	if err := storage.WriteFileAtomic(target, data, 0600); err != nil {
		return nil, fmt.Errorf("写入证书失败: %w", err)
	}
	log.Information("[文件夹] 证书已写入 %s", target)
	return []model.ActionResult{model.Success(fmt.Sprintf("证书已写入 %s", target)).WithSteps([]model.ActionStep{step})}, nil
}
