// Package cloudstore 将证书上传到云平台证书托管服务的部署任务
package cloudstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/storage"
)

// StoreFactory 使用凭证创建证书托管客户端
type StoreFactory func(creds model.Credentials) (provider.CertificateStore, error)

// Provider 上传证书的部署提供商，同一平台上已有相同域名与到期时间的证书时跳过
type Provider struct {
	def      model.ProviderDefinition
	newStore StoreFactory
}

var _ provider.DeploymentProvider = (*Provider)(nil)

// New 创建部署提供商
func New(def model.ProviderDefinition, newStore StoreFactory) *Provider {
	return &Provider{def: def, newStore: newStore}
}

// Definition 返回提供商元数据
func (p *Provider) Definition() model.ProviderDefinition {
	return p.def
}

// Execute 上传证书
func (p *Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, creds model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	bundle, err := storage.ReadManaged(subject)
	if err != nil {
		return nil, err
	}
	cert, err := bundle.PEM()
	if err != nil {
		return nil, err
	}

	primary := subject.PrimaryDomain()
	notAfter := bundle.Certificate.NotAfter
	name := cfg.Param("name", fmt.Sprintf("%s-%s", domain.FileName(primary), notAfter.Format("20060102")))

	if err := creds.Require(p.def.CredentialKeys...); err != nil {
		return nil, err
	}
	store, err := p.newStore(creds)
	if err != nil {
		return nil, err
	}

	existing, err := store.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}
	if found := findSame(existing, primary, notAfter); found != nil {
		msg := fmt.Sprintf("%s 已存在证书 %s (ID: %s)，跳过上传", p.def.Title, primary, found.CertID)
		log.Information(msg)
		return []model.ActionResult{model.Success(msg).WithSteps([]model.ActionStep{{
			Category:    "Upload",
			Description: msg,
		}})}, nil
	}

	step := model.ActionStep{
		Category:    "Upload",
		Description: fmt.Sprintf("上传证书 %s 到 %s", name, p.def.Title),
		HasChanged:  true,
	}
	if isPreviewOnly {
		return []model.ActionResult{model.Success(step.Description).WithSteps([]model.ActionStep{step})}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	certID, err := store.UploadCertificate(ctx, name, cert)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("证书已上传到 %s，ID: %s", p.def.Title, certID)
	log.Information(msg)
	return []model.ActionResult{model.Success(msg).WithSteps([]model.ActionStep{step})}, nil
}

// findSame 查找域名相同且到期时间一致（同一天）的证书
func findSame(certs []*provider.CertificateInfo, primary string, notAfter time.Time) *provider.CertificateInfo {
	for _, c := range certs {
		if !strings.EqualFold(c.Domain, primary) {
			continue
		}
		if c.NotAfter.IsZero() {
			continue
		}
		if c.NotAfter.UTC().Format("2006-01-02") == notAfter.UTC().Format("2006-01-02") {
			return c
		}
	}
	return nil
}
