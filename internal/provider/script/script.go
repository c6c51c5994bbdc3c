// Package script 执行自定义命令的部署任务
package script

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"ssl-deployer/internal/hook"
	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/storage"
)

// Definition 执行脚本
var Definition = model.ProviderDefinition{
	ID:          "script",
	Title:       "Run Script",
	Description: "执行命令，可使用 ${DOMAIN}、${PFX_FILE}、${CERT_FILE} 等变量",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "command", Name: "命令", Required: true},
		{Key: "timeout", Name: "超时(秒)", Description: "默认 300"},
	},
}

// Provider 脚本部署提供商
type Provider struct{}

var _ provider.DeploymentProvider = Provider{}

// Definition 返回提供商元数据
func (Provider) Definition() model.ProviderDefinition {
	return Definition
}

// Vars 命令可用的变量，PEM 文件与 PFX 位于同一证书目录
func Vars(subject *model.ManagedCertificate) map[string]string {
	dir := filepath.Dir(subject.CertificatePath)
	return hook.BuildVars(subject, dir,
		filepath.Join(dir, storage.CertFileName),
		filepath.Join(dir, storage.KeyFileName),
		filepath.Join(dir, storage.FullchainFileName))
}

// Execute 执行命令，预览时只报告展开后的命令
func (Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, _ model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	if subject == nil || subject.CertificatePath == "" {
		return nil, fmt.Errorf("%w: 受管证书尚未签发", model.ErrConfigurationMissing)
	}

	vars := Vars(subject)
	command := cfg.Param("command", "")
	step := model.ActionStep{Category: "Script", Description: fmt.Sprintf("执行命令: %s", hook.Expand(command, vars)), HasChanged: true}
	if isPreviewOnly {
		return []model.ActionResult{model.Success(step.Description).WithSteps([]model.ActionStep{step})}, nil
	}

	executor := hook.NewExecutor(log)
	if raw := cfg.Param("timeout", ""); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: 无效的超时时间 %q", model.ErrValidationFailure, raw)
		}
		executor.WithTimeout(time.Duration(seconds) * time.Second)
	}

	output, err := executor.Run(ctx, command, vars)
	if err != nil {
		return nil, err
	}
	if output != "" {
		step.Description = fmt.Sprintf("%s\n%s", step.Description, output)
	}
	return []model.ActionResult{model.Success("命令执行成功").WithSteps([]model.ActionStep{step})}, nil
}
