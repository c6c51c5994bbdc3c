package aliyun

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	cas "github.com/alibabacloud-go/cas-20200407/v3/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"

	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// CASDefinition 上传到阿里云数字证书管理服务
var CASDefinition = model.ProviderDefinition{
	ID:          "aliyun-cas",
	Title:       "阿里云证书服务",
	Description: "上传证书到阿里云数字证书管理服务 (CAS)，已存在相同证书时跳过",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "name", Name: "证书名称", Description: "默认为 域名-到期日"},
	},
	CredentialKeys: []string{CredentialAccessKeyID, CredentialAccessKeySecret},
}

// CertStore 阿里云证书托管
type CertStore struct {
	client *cas.Client
}

var _ provider.CertificateStore = (*CertStore)(nil)

// NewCertStore 创建阿里云证书托管客户端
func NewCertStore(creds model.Credentials) (provider.CertificateStore, error) {
	if err := creds.Require(CredentialAccessKeyID, CredentialAccessKeySecret); err != nil {
		return nil, fmt.Errorf("阿里云CAS: %w", err)
	}

	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(creds.Get(CredentialAccessKeyID)),
		AccessKeySecret: tea.String(creds.Get(CredentialAccessKeySecret)),
		Endpoint:        tea.String("cas.aliyuncs.com"),
	}

	client, err := cas.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云CAS客户端失败: %w", err)
	}

	return &CertStore{client: client}, nil
}

// Name 返回提供商名称
func (p *CertStore) Name() string {
	return "aliyun"
}

// UploadCertificate 上传证书，返回证书ID
func (p *CertStore) UploadCertificate(ctx context.Context, name string, cert *provider.Certificate) (string, error) {
	log.Printf("[阿里云] 上传证书: %s", name)

	request := &cas.UploadUserCertificateRequest{
		Name: tea.String(name),
		Cert: tea.String(cert.FullChain()),
		Key:  tea.String(cert.PrivateKey),
	}

	response, err := p.client.UploadUserCertificate(request)
	if err != nil {
		return "", fmt.Errorf("上传证书失败: %w", err)
	}

	certID := fmt.Sprintf("%d", tea.Int64Value(response.Body.CertId))
	log.Printf("[阿里云] 证书上传成功，证书ID: %s", certID)
	return certID, nil
}

// ListCertificates 列出已上传的证书
func (p *CertStore) ListCertificates(ctx context.Context) ([]*provider.CertificateInfo, error) {
	request := &cas.ListUserCertificateOrderRequest{
		OrderType: tea.String("UPLOAD"),
	}

	response, err := p.client.ListUserCertificateOrder(request)
	if err != nil {
		return nil, fmt.Errorf("获取证书列表失败: %w", err)
	}

	var certs []*provider.CertificateInfo
	for _, cert := range response.Body.CertificateOrderList {
		domain := tea.StringValue(cert.CommonName)
		if domain == "" {
			domain = tea.StringValue(cert.Domain)
		}

		var notAfter time.Time
		if endTime := tea.Int64Value(cert.CertEndTime); endTime > 0 {
			notAfter = time.UnixMilli(endTime)
		}

		var sans []string
		if sansStr := tea.StringValue(cert.Sans); sansStr != "" {
			sans = strings.Split(sansStr, ",")
		}

		certs = append(certs, &provider.CertificateInfo{
			CertID:   fmt.Sprintf("%d", tea.Int64Value(cert.CertificateId)),
			Domain:   domain,
			Sans:     sans,
			NotAfter: notAfter,
			Status:   "uploaded",
		})
	}

	return certs, nil
}
