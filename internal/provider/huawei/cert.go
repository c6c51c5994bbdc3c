package huawei

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	scm "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/scm/v3"
	scmModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/scm/v3/model"
	scmRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/scm/v3/region"

	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// SCMDefinition 导入到华为云证书管理服务
var SCMDefinition = model.ProviderDefinition{
	ID:          "huawei-scm",
	Title:       "华为云 SCM 证书",
	Description: "导入证书到华为云云证书管理服务 (SCM)，已存在相同证书时跳过",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "name", Name: "证书名称", Description: "默认为 域名-到期日"},
	},
	CredentialKeys: []string{CredentialAccessKey, CredentialSecretKey},
}

// CertStore 华为云证书托管
type CertStore struct {
	client *scm.ScmClient
}

var _ provider.CertificateStore = (*CertStore)(nil)

// NewCertStore 创建华为云证书托管客户端
func NewCertStore(creds model.Credentials) (provider.CertificateStore, error) {
	cred, region, err := credentials(creds)
	if err != nil {
		return nil, fmt.Errorf("华为云SCM: %w", err)
	}

	regionObj, err := scmRegion.SafeValueOf(region)
	if err != nil {
		return nil, fmt.Errorf("无效的区域: %s", region)
	}

	client := scm.NewScmClient(
		scm.ScmClientBuilder().
			WithRegion(regionObj).
			WithCredential(cred).
			Build())

	return &CertStore{client: client}, nil
}

// Name 返回提供商名称
func (p *CertStore) Name() string {
	return "huawei"
}

// UploadCertificate 导入证书，返回证书ID
func (p *CertStore) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	log.Printf("[华为云] 导入证书: %s", name)

	request := &scmModel.ImportCertificateRequest{
		Body: &scmModel.ImportCertificateRequestBody{
			Name:             name,
			Certificate:      cert.Certificate,
			CertificateChain: chain(cert.Chain),
			PrivateKey:       cert.PrivateKey,
		},
	}

	response, err := p.client.ImportCertificate(request)
	if err != nil {
		return "", fmt.Errorf("导入证书失败: %w", err)
	}

	var certID string
	if response.CertificateId != nil {
		certID = *response.CertificateId
	}
	log.Printf("[华为云] 证书导入成功，证书ID: %s", certID)
	return certID, nil
}

// ListCertificates 列出已签发或已导入的证书
func (p *CertStore) ListCertificates(ctx context.Context) ([]*provider.CertificateInfo, error) {
	response, err := p.client.ListCertificates(&scmModel.ListCertificatesRequest{})
	if err != nil {
		return nil, fmt.Errorf("获取证书列表失败: %w", err)
	}

	var certs []*provider.CertificateInfo
	if response.Certificates != nil {
		for _, cert := range *response.Certificates {
			if cert.Status != "ISSUED" && cert.Status != "UPLOAD" {
				continue
			}

			var notAfter time.Time
			if cert.ExpireTime != "" {
				notAfter, _ = time.Parse("2006-01-02 15:04:05", cert.ExpireTime)
			}

			var sans []string
			if cert.Sans != "" {
				sans = strings.Split(cert.Sans, ",")
			}

			certs = append(certs, &provider.CertificateInfo{
				CertID:   cert.Id,
				Name:     cert.Name,
				Domain:   cert.Domain,
				Sans:     sans,
				NotAfter: notAfter,
				Status:   strings.ToLower(cert.Status),
			})
		}
	}

	return certs, nil
}

// chain 证书链为空时不传该字段
func chain(pem string) *string {
	if strings.TrimSpace(pem) == "" {
		return nil
	}
	return &pem
}
