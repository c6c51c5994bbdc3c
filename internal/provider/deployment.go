package provider

import (
	"context"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

// DeploymentProvider 部署任务提供商
type DeploymentProvider interface {
	// Definition 返回提供商元数据
	Definition() model.ProviderDefinition

	// Execute 执行部署；isPreviewOnly 为 true 时只返回计划步骤，不修改任何外部状态
	Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
		cfg *model.DeploymentTaskConfig, creds model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error)
}

// CertificateStore 云平台证书托管服务
type CertificateStore interface {
	// Name 返回提供商名称
	Name() string

	// UploadCertificate 上传证书，返回平台证书ID
	UploadCertificate(ctx context.Context, name string, cert *Certificate) (string, error)

	// ListCertificates 列出已托管的证书
	ListCertificates(ctx context.Context) ([]*CertificateInfo, error)
}
