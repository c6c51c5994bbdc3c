package tencent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ssl "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ssl/v20191205"

	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// SSLDefinition 上传到腾讯云 SSL 证书服务
var SSLDefinition = model.ProviderDefinition{
	ID:          "tencent-ssl",
	Title:       "腾讯云 SSL 证书",
	Description: "上传证书到腾讯云 SSL 证书服务，已存在相同证书时跳过",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "name", Name: "证书备注名", Description: "默认为 域名-到期日"},
	},
	CredentialKeys: []string{CredentialSecretID, CredentialSecretKey},
}

// CertStore 腾讯云证书托管
type CertStore struct {
	client *ssl.Client
}

var _ provider.CertificateStore = (*CertStore)(nil)

// NewCertStore 创建腾讯云证书托管客户端
func NewCertStore(creds model.Credentials) (provider.CertificateStore, error) {
	if err := creds.Require(CredentialSecretID, CredentialSecretKey); err != nil {
		return nil, fmt.Errorf("腾讯云SSL: %w", err)
	}

	credential := common.NewCredential(creds.Get(CredentialSecretID), creds.Get(CredentialSecretKey))
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "ssl.tencentcloudapi.com"

	region := creds.Get(CredentialRegion)
	if region == "" {
		region = "ap-guangzhou"
	}

	client, err := ssl.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云SSL客户端失败: %w", err)
	}

	return &CertStore{client: client}, nil
}

// Name 返回提供商名称
func (p *CertStore) Name() string {
	return "tencent"
}

// UploadCertificate 上传证书，返回 CertificateId
func (p *CertStore) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	log.Printf("[腾讯云] 上传证书: %s", name)

	request := ssl.NewUploadCertificateRequest()
	request.CertificatePublicKey = common.StringPtr(cert.FullChain())
	request.CertificatePrivateKey = common.StringPtr(cert.PrivateKey)
	request.CertificateType = common.StringPtr("SVR")
	request.Alias = common.StringPtr(name)

	response, err := p.client.UploadCertificateWithContext(ctx, request)
	if err != nil {
		return "", fmt.Errorf("上传证书失败: %w", err)
	}

	certID := stringValue(response.Response.CertificateId)
	log.Printf("[腾讯云] 证书上传成功，CertificateId: %s", certID)
	return certID, nil
}

// ListCertificates 列出证书
func (p *CertStore) ListCertificates(ctx context.Context) ([]*provider.CertificateInfo, error) {
	request := ssl.NewDescribeCertificatesRequest()
	request.Limit = common.Uint64Ptr(100)

	response, err := p.client.DescribeCertificatesWithContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("获取证书列表失败: %w", err)
	}

	var certs []*provider.CertificateInfo
	for _, cert := range response.Response.Certificates {
		// 1: 已通过
		if cert.Status == nil || *cert.Status != 1 {
			continue
		}

		var notAfter time.Time
		if cert.CertEndTime != nil {
			notAfter, _ = time.ParseInLocation("2006-01-02 15:04:05", *cert.CertEndTime, time.Local)
		}

		var sans []string
		for _, s := range cert.SubjectAltName {
			if s != nil {
				sans = append(sans, *s)
			}
		}

		certs = append(certs, &provider.CertificateInfo{
			CertID:   stringValue(cert.CertificateId),
			Name:     stringValue(cert.Alias),
			Domain:   stringValue(cert.Domain),
			Sans:     sans,
			NotAfter: notAfter,
			Status:   "issued",
		})
	}

	return certs, nil
}
