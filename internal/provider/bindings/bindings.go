// Package bindings 更新本地站点绑定的部署任务
package bindings

import (
	"context"
	"fmt"
	"path/filepath"

	"ssl-deployer/internal/binding/localserver"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// Definition 本地站点绑定
var Definition = model.ProviderDefinition{
	ID:          "local-bindings",
	Title:       "Local Site Bindings",
	Description: "将证书存入本地证书存储，并按证书申请配置更新站点的 https/ftp 绑定",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "state_file", Name: "站点状态文件", Required: true},
		{Key: "store_dir", Name: "证书存储目录", Description: "默认为状态文件所在目录下的 store"},
	},
}

// Provider 本地站点绑定部署提供商
type Provider struct{}

var _ provider.DeploymentProvider = Provider{}

// Definition 返回提供商元数据
func (Provider) Definition() model.ProviderDefinition {
	return Definition
}

// Server 根据任务配置创建部署目标
func Server(cfg *model.DeploymentTaskConfig, log logging.Logger) *localserver.Server {
	statePath := cfg.Param("state_file", "")
	storeDir := cfg.Param("store_dir", filepath.Join(filepath.Dir(statePath), "store"))
	return localserver.New(statePath, storeDir, log)
}

// Execute 存储证书并更新绑定
func (Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, _ model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	if subject == nil || subject.CertificatePath == "" {
		return nil, fmt.Errorf("%w: 受管证书尚未签发", model.ErrConfigurationMissing)
	}

	server := Server(cfg, log)
	if !server.IsAvailable(ctx) {
		return nil, fmt.Errorf("%w: 站点状态文件 %s 不存在", model.ErrConfigurationMissing, cfg.Param("state_file", ""))
	}

	steps, err := server.InstallCertForRequest(ctx, subject, subject.CertificatePath, subject.PFXPassword, isPreviewOnly)
	changed := 0
	for _, s := range steps {
		if s.HasChanged {
			changed++
		}
	}
	if err != nil {
		// 已生效的变更随失败结果一起返回
		msg := fmt.Sprintf("绑定部署部分失败，已完成 %d 项变更: %v", changed, err)
		log.Error("[绑定] %s", msg)
		return []model.ActionResult{model.Failure(msg).WithSteps(steps)}, nil
	}

	msg := fmt.Sprintf("绑定部署完成，%d 项变更", changed)
	if isPreviewOnly {
		msg = fmt.Sprintf("绑定部署预览，%d 项变更", changed)
	}
	return []model.ActionResult{model.Success(msg).WithSteps(steps)}, nil
}
