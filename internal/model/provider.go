package model

// Capability 提供商能力
type Capability string

const (
	CapabilityDeployment Capability = "deployment"
	CapabilityDNS        Capability = "dns"
)

// ProviderParameter 提供商参数说明
type ProviderParameter struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}

// ProviderDefinition 提供商元数据
type ProviderDefinition struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Capability  Capability          `json:"capability"`
	Parameters  []ProviderParameter `json:"parameters,omitempty"`
	// CredentialKeys 需要的凭证键
	CredentialKeys []string `json:"credential_keys,omitempty"`
}

// MissingParameters 返回配置中缺失的必需参数
func (d ProviderDefinition) MissingParameters(cfg *DeploymentTaskConfig) []string {
	var missing []string
	for _, p := range d.Parameters {
		if p.Required && cfg.Param(p.Key, p.Default) == "" {
			missing = append(missing, p.Key)
		}
	}
	return missing
}
