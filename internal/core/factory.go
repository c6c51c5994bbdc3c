package core

import (
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/plugin"
	"ssl-deployer/internal/provider/aliyun"
	"ssl-deployer/internal/provider/bindings"
	"ssl-deployer/internal/provider/cloudstore"
	"ssl-deployer/internal/provider/filestore"
	"ssl-deployer/internal/provider/huawei"
	"ssl-deployer/internal/provider/pemexport"
	"ssl-deployer/internal/provider/s3upload"
	"ssl-deployer/internal/provider/script"
	"ssl-deployer/internal/provider/tencent"
	"ssl-deployer/internal/provider/webhook"
)

// deployment 不需要凭证即可创建的部署提供商
func deployment(p any) plugin.Factory {
	return func(model.Credentials) (any, error) { return p, nil }
}

// DeploymentProviders 注册内置部署提供商
func DeploymentProviders(r *plugin.Registry) error {
	entries := []struct {
		def     model.ProviderDefinition
		factory plugin.Factory
	}{
		{bindings.Definition, deployment(bindings.Provider{})},
		{filestore.Definition, deployment(filestore.Provider{})},
		{pemexport.Definition, deployment(pemexport.Provider{})},
		{script.Definition, deployment(script.Provider{})},
		{webhook.Definition, deployment(webhook.Provider{})},
		{s3upload.Definition, deployment(s3upload.New())},
		{aliyun.CASDefinition, deployment(cloudstore.New(aliyun.CASDefinition, aliyun.NewCertStore))},
		{tencent.SSLDefinition, deployment(cloudstore.New(tencent.SSLDefinition, tencent.NewCertStore))},
		{huawei.SCMDefinition, deployment(cloudstore.New(huawei.SCMDefinition, huawei.NewCertStore))},
	}
	for _, e := range entries {
		if err := r.Register(model.CapabilityDeployment, e.def, e.factory); err != nil {
			return err
		}
	}
	return nil
}

// DNSProviders 注册 DNS-01 提供商
func DNSProviders(r *plugin.Registry) error {
	entries := []struct {
		def     model.ProviderDefinition
		factory plugin.Factory
	}{
		{aliyun.DNSDefinition, aliyun.NewTXTChallenge},
		{tencent.DNSDefinition, tencent.NewTXTChallenge},
		{huawei.DNSDefinition, huawei.NewTXTChallenge},
	}
	for _, e := range entries {
		if err := r.Register(model.CapabilityDNS, e.def, e.factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry 创建并加载内置提供商的注册表
func NewRegistry() (*plugin.Registry, error) {
	r := plugin.NewRegistry()
	if err := r.Load(DeploymentProviders, DNSProviders); err != nil {
		return nil, err
	}
	return r, nil
}
