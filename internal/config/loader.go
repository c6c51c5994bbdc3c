package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ssl-deployer/internal/domain"
	"ssl-deployer/internal/model"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "SSL_DEPLOYER_"

// overrides 可由环境变量覆盖的配置项
type overrides struct {
	OutputDir     string `env:"OUTPUT_DIR"`
	Concurrency   int    `env:"CONCURRENCY"`
	CheckInterval int    `env:"CHECK_INTERVAL"`
	Email         string `env:"ACME_EMAIL"`
	DirectoryURL  string `env:"ACME_DIRECTORY_URL"`
	Listen        string `env:"HTTP_LISTEN"`
	LogLevel      string `env:"LOG_LEVEL"`
}

var validate = validator.New()

// Load 加载配置文件。配置文件同目录下的 .env 会先载入环境变量
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析配置内容，补全默认值并校验
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	migrateLegacy(&config)

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	// 凭证中的 ${VAR} 替换为环境变量
	for _, values := range config.Credentials {
		for k, v := range values {
			values[k] = os.ExpandEnv(v)
		}
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// migrateLegacy 旧版 providers/domains 配置迁移为凭证集合与证书配置
func migrateLegacy(config *Config) {
	if config.Aliyun != nil && config.Providers.Aliyun == nil {
		config.Providers.Aliyun = config.Aliyun
	}
	if config.Credentials == nil {
		config.Credentials = make(map[string]map[string]string)
	}

	legacy := map[string]map[string]string{}
	if p := config.Providers.Aliyun; p != nil {
		legacy["aliyun"] = map[string]string{"access_key_id": p.AccessKeyID, "access_key_secret": p.AccessKeySecret, "region": p.Region}
	}
	if p := config.Providers.Tencent; p != nil {
		legacy["tencent"] = map[string]string{"secret_id": p.SecretID, "secret_key": p.SecretKey, "region": p.Region}
	}
	if p := config.Providers.Huawei; p != nil {
		legacy["huawei"] = map[string]string{"access_key": p.AccessKey, "secret_key": p.SecretKey, "region": p.Region, "project_id": p.ProjectID}
	}
	for id, values := range legacy {
		if _, ok := config.Credentials[id]; !ok {
			config.Credentials[id] = values
		}
	}

	for _, d := range config.Domains {
		dnsProvider := d.GetDNSProvider()
		config.Certificates = append(config.Certificates, CertificateConfig{
			RenewDays: d.RenewDays,
			Request: model.CertRequestConfig{
				PrimaryDomain: d.Domain,
				Challenges: []model.ChallengeConfig{{
					ChallengeType:          model.ChallengeTypeDNS01,
					ChallengeProvider:      dnsProvider,
					ChallengeCredentialKey: dnsProvider,
				}},
				PostRequestHook: d.PostCommand,
			},
		})
	}
	config.Domains = nil
}

func applyEnv(config *Config) error {
	var o overrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	if o.OutputDir != "" {
		config.OutputDir = o.OutputDir
	}
	if o.Concurrency > 0 {
		config.Concurrency = o.Concurrency
	}
	if o.CheckInterval > 0 {
		config.CheckInterval = o.CheckInterval
	}
	if o.Email != "" {
		config.Account.Email = o.Email
	}
	if o.DirectoryURL != "" {
		config.Account.DirectoryURL = o.DirectoryURL
	}
	if o.Listen != "" {
		config.Server.Listen = o.Listen
	}
	if o.LogLevel != "" {
		config.Log.Level = o.LogLevel
	}
	return nil
}

func setDefaults(config *Config) {
	if config.OutputDir == "" {
		config.OutputDir = "./certs"
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 24
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1 // 默认并发数为1
	}
	if config.Account.AccountFile == "" {
		config.Account.AccountFile = filepath.Join(config.OutputDir, "account.json")
	}
	if config.Server.Listen == "" {
		config.Server.Listen = ":80"
	}
	if config.DNSCheck.Interval == 0 {
		config.DNSCheck.Interval = 10
	}
	if config.DNSCheck.Attempts == 0 {
		config.DNSCheck.Attempts = 30
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	for i := range config.Certificates {
		cert := &config.Certificates[i]
		cert.Request.PrimaryDomain = strings.ToLower(strings.TrimSpace(cert.Request.PrimaryDomain))
		if cert.ID == "" && cert.Request.PrimaryDomain != "" {
			cert.ID = certificateID(cert.Request.PrimaryDomain)
		}
		if cert.RenewDays == 0 {
			cert.RenewDays = 30
		}
		for j := range cert.Tasks {
			if cert.Tasks[j].ID == "" {
				cert.Tasks[j].ID = fmt.Sprintf("%s-%d", cert.ID, j+1)
			}
		}
	}
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	if len(config.Certificates) == 0 {
		return fmt.Errorf("未配置任何证书")
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	ids := make(map[string]bool)
	for _, cert := range config.Certificates {
		primary := cert.Request.PrimaryDomain
		if primary == "" {
			return fmt.Errorf("证书 %s: 未配置主域名", cert.ID)
		}
		if ids[cert.ID] {
			return fmt.Errorf("证书 ID 重复: %s", cert.ID)
		}
		ids[cert.ID] = true

		for _, d := range cert.Domains() {
			if !domain.IsValid(d) {
				return fmt.Errorf("证书 %s: 无效的域名 %q", primary, d)
			}
		}

		// DNS-01 需要可用的提供商和凭证
		for _, ch := range cert.Request.Challenges {
			if ch.ChallengeType != model.ChallengeTypeDNS01 {
				continue
			}
			if ch.ChallengeProvider == "" {
				return fmt.Errorf("证书 %s: dns-01 验证未指定提供商", primary)
			}
			if _, ok := config.Credentials[ch.ChallengeCredentialKey]; ch.ChallengeCredentialKey != "" && !ok {
				return fmt.Errorf("证书 %s: 凭证 %s 不存在", primary, ch.ChallengeCredentialKey)
			}
		}
	}
	return nil
}
