// Package config 读取配置文件
package config

import (
	"strings"

	"github.com/google/uuid"

	"ssl-deployer/internal/model"
	"ssl-deployer/internal/notification"
)

// Config 配置结构
type Config struct {
	// ACME 账户
	Account AccountConfig `yaml:"account"`

	// 凭证集合，键为凭证 ID，值中的 ${VAR} 会替换为环境变量
	Credentials map[string]map[string]string `yaml:"credentials,omitempty"`

	// 受管证书
	Certificates []CertificateConfig `yaml:"certificates" validate:"dive"`

	// 全局配置
	OutputDir     string `yaml:"output_dir"`
	CheckInterval int    `yaml:"check_interval" validate:"gte=0"` // 检查间隔（小时）
	PostCommand   string `yaml:"post_command"`                    // 全局后置命令
	Concurrency   int    `yaml:"concurrency" validate:"gte=0"`    // 并发处理数，默认1

	Server   ServerConfig   `yaml:"server"`
	DNSCheck DNSCheckConfig `yaml:"dns_check"`
	Log      LogConfig      `yaml:"log"`

	// Webhook 通知配置
	Webhook *notification.Config `yaml:"webhook,omitempty"`

	// 向后兼容：旧版云平台凭证与域名配置
	Providers ProvidersConfig `yaml:"providers,omitempty"`
	Domains   []DomainConfig  `yaml:"domains,omitempty"`
	Aliyun    *AliyunConfig   `yaml:"aliyun,omitempty"`
}

// AccountConfig ACME 账户配置
type AccountConfig struct {
	Email        string  `yaml:"email" validate:"required,email"`
	DirectoryURL string  `yaml:"directory_url,omitempty" validate:"omitempty,url"`
	AccountFile  string  `yaml:"account_file,omitempty"` // 默认 <output_dir>/account.json
	KeyType      string  `yaml:"key_type,omitempty" validate:"omitempty,oneof=P256 P384 2048 3072 4096 8192"`
	RateLimit    float64 `yaml:"rate_limit,omitempty" validate:"gte=0"` // 每秒请求数，0 表示不限制
}

// ServerConfig HTTP-01 验证与指标服务
type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"` // 默认 :80
}

// DNSCheckConfig DNS-01 记录生效检查
type DNSCheckConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Nameservers []string `yaml:"nameservers,omitempty" validate:"dive,hostname_port"`
	Interval    int      `yaml:"interval,omitempty" validate:"gte=0"` // 秒，默认10
	Attempts    int      `yaml:"attempts,omitempty" validate:"gte=0"` // 默认30
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// CertificateConfig 受管证书配置
type CertificateConfig struct {
	ID          string `yaml:"id,omitempty"`
	Name        string `yaml:"name,omitempty"`
	RenewDays   int    `yaml:"renew_days" validate:"gte=0"`
	PFXPassword string `yaml:"pfx_password,omitempty"`

	Request model.CertRequestConfig      `yaml:",inline"`
	Tasks   []model.DeploymentTaskConfig `yaml:"tasks,omitempty" validate:"dive"`
}

// Domains 证书覆盖的全部域名，主域名在前
func (c *CertificateConfig) Domains() []string {
	return c.Request.AllDomains()
}

// Managed 转换为受管证书
func (c *CertificateConfig) Managed() *model.ManagedCertificate {
	name := c.Name
	if name == "" {
		name = c.Request.PrimaryDomain
	}
	return &model.ManagedCertificate{
		ID:            c.ID,
		Name:          name,
		Domains:       c.Domains(),
		RequestConfig: c.Request,
		PFXPassword:   c.PFXPassword,
	}
}

// certificateID 未指定 ID 时由主域名生成稳定的 ID
func certificateID(primary string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(strings.ToLower(primary))).String()
}

// CredentialSet 按 ID 读取凭证
func (c *Config) CredentialSet(id string) (model.Credentials, bool) {
	values, ok := c.Credentials[id]
	if !ok {
		return model.Credentials{}, false
	}
	return model.NewCredentials(values), true
}

// Certificate 按 ID 或主域名查找证书配置
func (c *Config) Certificate(idOrDomain string) (*CertificateConfig, bool) {
	for i := range c.Certificates {
		cert := &c.Certificates[i]
		if cert.ID == idOrDomain || strings.EqualFold(cert.Request.PrimaryDomain, idOrDomain) {
			return cert, true
		}
	}
	return nil, false
}

// ProvidersConfig 旧版云平台凭证配置
type ProvidersConfig struct {
	Aliyun  *AliyunConfig  `yaml:"aliyun,omitempty"`
	Tencent *TencentConfig `yaml:"tencent,omitempty"`
	Huawei  *HuaweiConfig  `yaml:"huawei,omitempty"`
}

// AliyunConfig 阿里云配置
type AliyunConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Region          string `yaml:"region"`
}

// TencentConfig 腾讯云配置
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// HuaweiConfig 华为云配置
type HuaweiConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	ProjectID string `yaml:"project_id"`
}

// DomainConfig 旧版域名配置，加载时迁移为证书配置
type DomainConfig struct {
	Domain string `yaml:"domain"`

	// 简单模式：证书和DNS使用同一平台
	Provider string `yaml:"provider,omitempty"` // aliyun, tencent, huawei

	// 混合模式：旧版证书平台已不再使用，只保留 DNS 平台
	CertProvider string `yaml:"cert_provider,omitempty"`
	DNSProvider  string `yaml:"dns_provider,omitempty"`

	RenewDays   int    `yaml:"renew_days"`
	PostCommand string `yaml:"post_command,omitempty"`
}

// GetDNSProvider 获取DNS提供商名称
func (d *DomainConfig) GetDNSProvider() string {
	if d.DNSProvider != "" {
		return d.DNSProvider
	}
	if d.Provider != "" {
		return d.Provider
	}
	return "aliyun" // 默认使用阿里云
}
