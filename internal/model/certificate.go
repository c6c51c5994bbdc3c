package model

import (
	"strings"
	"time"
)

// RequestState 最近一次申请的结果
type RequestState string

const (
	RequestStateNone    RequestState = ""
	RequestStateSuccess RequestState = "success"
	RequestStateError   RequestState = "error"
	RequestStateWarning RequestState = "warning"
)

// ManagedCertificate 受管证书
type ManagedCertificate struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Domains       []string          `json:"domains"`
	RequestConfig CertRequestConfig `json:"request_config"`

	CertificatePath string `json:"certificate_path,omitempty"`
	PFXPassword     string `json:"-"`

	DateStart       time.Time    `json:"date_start,omitempty"`
	DateExpiry      time.Time    `json:"date_expiry,omitempty"`
	DateRenewed     time.Time    `json:"date_renewed,omitempty"`
	DateLastAttempt time.Time    `json:"date_last_attempt,omitempty"`
	LastStatus      RequestState `json:"last_status,omitempty"`
	LastMessage     string       `json:"last_message,omitempty"`
}

// PrimaryDomain 返回主域名
func (m *ManagedCertificate) PrimaryDomain() string {
	if m.RequestConfig.PrimaryDomain != "" {
		return m.RequestConfig.PrimaryDomain
	}
	if len(m.Domains) > 0 {
		return m.Domains[0]
	}
	return ""
}

// DaysUntilExpiry 距离过期的天数，未签发时返回 -1
func (m *ManagedCertificate) DaysUntilExpiry(now time.Time) int {
	if m.DateExpiry.IsZero() {
		return -1
	}
	return int(m.DateExpiry.Sub(now).Hours() / 24)
}

// DeploymentSiteOption 部署站点范围
type DeploymentSiteOption string

const (
	DeploymentSiteNone   DeploymentSiteOption = "none"
	DeploymentSiteSingle DeploymentSiteOption = "single-site"
	DeploymentSiteAll    DeploymentSiteOption = "all-sites"
)

// DeploymentBindingOption 绑定部署方式
type DeploymentBindingOption string

const (
	DeploymentBindingAddOrUpdate DeploymentBindingOption = "add-or-update"
	DeploymentBindingUpdateOnly  DeploymentBindingOption = "update-only"
)

// WebhookTrigger Webhook 触发条件
type WebhookTrigger string

const (
	WebhookTriggerNone      WebhookTrigger = "none"
	WebhookTriggerOnSuccess WebhookTrigger = "on-success"
	WebhookTriggerOnError   WebhookTrigger = "on-error"
	WebhookTriggerAlways    WebhookTrigger = "always"
)

// 挑战类型
const (
	ChallengeTypeHTTP01 = "http-01"
	ChallengeTypeDNS01  = "dns-01"
)

// ChallengeConfig 单个域名（或一组域名）的验证方式
type ChallengeConfig struct {
	ChallengeType          string   `yaml:"type" json:"type" validate:"omitempty,oneof=http-01 dns-01"`
	ChallengeProvider      string   `yaml:"provider,omitempty" json:"provider,omitempty"`
	ChallengeCredentialKey string   `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Domains                []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	// PropagationDelay DNS 记录创建后等待的秒数
	PropagationDelay int `yaml:"propagation_delay,omitempty" json:"propagation_delay,omitempty"`
}

// CertRequestConfig 证书申请与部署配置
type CertRequestConfig struct {
	PrimaryDomain           string            `yaml:"primary_domain,omitempty" json:"primary_domain,omitempty"`
	SubjectAlternativeNames []string          `yaml:"subject_alternative_names,omitempty" json:"subject_alternative_names,omitempty"`
	Challenges              []ChallengeConfig `yaml:"challenges,omitempty" json:"challenges,omitempty" validate:"dive"`

	DeploymentSiteOption           DeploymentSiteOption    `yaml:"deployment_site_option,omitempty" json:"deployment_site_option,omitempty" validate:"omitempty,oneof=none single-site all-sites"`
	DeploymentSiteID               string                  `yaml:"deployment_site_id,omitempty" json:"deployment_site_id,omitempty"`
	DeploymentBindingMatchHostname bool                    `yaml:"binding_match_hostname,omitempty" json:"binding_match_hostname,omitempty"`
	DeploymentBindingBlankHostname bool                    `yaml:"binding_blank_hostname,omitempty" json:"binding_blank_hostname,omitempty"`
	DeploymentBindingOption        DeploymentBindingOption `yaml:"binding_option,omitempty" json:"binding_option,omitempty" validate:"omitempty,oneof=add-or-update update-only"`
	BindingIPAddress               string                  `yaml:"binding_ip,omitempty" json:"binding_ip,omitempty"`
	BindingPort                    int                     `yaml:"binding_port,omitempty" json:"binding_port,omitempty" validate:"omitempty,min=1,max=65535"`
	BindingUseSNI                  bool                    `yaml:"binding_use_sni,omitempty" json:"binding_use_sni,omitempty"`
	AlwaysRecreateBindings         bool                    `yaml:"always_recreate_bindings,omitempty" json:"always_recreate_bindings,omitempty"`
	DeployToFTP                    bool                    `yaml:"deploy_to_ftp,omitempty" json:"deploy_to_ftp,omitempty"`
	CertificateStoreName           string                  `yaml:"certificate_store,omitempty" json:"certificate_store,omitempty"`

	PreRequestHook  string `yaml:"pre_request_hook,omitempty" json:"pre_request_hook,omitempty"`
	PostRequestHook string `yaml:"post_request_hook,omitempty" json:"post_request_hook,omitempty"`

	WebhookTrigger     WebhookTrigger `yaml:"webhook_trigger,omitempty" json:"webhook_trigger,omitempty" validate:"omitempty,oneof=none on-success on-error always"`
	WebhookURL         string         `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty" validate:"omitempty,url"`
	WebhookMethod      string         `yaml:"webhook_method,omitempty" json:"webhook_method,omitempty"`
	WebhookContentType string         `yaml:"webhook_content_type,omitempty" json:"webhook_content_type,omitempty"`
	WebhookContentBody string         `yaml:"webhook_content_body,omitempty" json:"webhook_content_body,omitempty"`
}

// AllDomains 返回主域名与备用域名（去重，保持顺序）
func (c *CertRequestConfig) AllDomains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range append([]string{c.PrimaryDomain}, c.SubjectAlternativeNames...) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// ChallengeFor 返回匹配域名的验证配置，优先精确匹配，其次通配符，最后是未限定域名的配置
func (c *CertRequestConfig) ChallengeFor(domain string) ChallengeConfig {
	domain = strings.ToLower(domain)
	var wildcard, fallback *ChallengeConfig
	for i := range c.Challenges {
		ch := &c.Challenges[i]
		if len(ch.Domains) == 0 {
			if fallback == nil {
				fallback = ch
			}
			continue
		}
		for _, d := range ch.Domains {
			d = strings.ToLower(d)
			if d == domain {
				return withDefaultType(*ch)
			}
			if strings.HasPrefix(d, "*.") && wildcard == nil {
				base := strings.TrimPrefix(d, "*.")
				if strings.HasSuffix(domain, "."+base) || strings.TrimPrefix(domain, "*.") == base {
					wildcard = ch
				}
			}
		}
	}
	if wildcard != nil {
		return withDefaultType(*wildcard)
	}
	if fallback != nil {
		return withDefaultType(*fallback)
	}
	return ChallengeConfig{ChallengeType: ChallengeTypeHTTP01}
}

func withDefaultType(c ChallengeConfig) ChallengeConfig {
	if c.ChallengeType == "" {
		c.ChallengeType = ChallengeTypeHTTP01
	}
	return c
}
