// Package pemexport 导出 PEM 格式证书的部署任务
package pemexport

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
	"ssl-deployer/internal/storage"
)

// Definition PEM 导出
var Definition = model.ProviderDefinition{
	ID:          "pem-export",
	Title:       "Export PEM Files",
	Description: "将证书导出为 <path>/<域名>/cert.pem、key.pem、fullchain.pem",
	Capability:  model.CapabilityDeployment,
	Parameters: []model.ProviderParameter{
		{Key: "path", Name: "输出目录", Required: true},
	},
}

// Provider PEM 导出提供商
type Provider struct{}

var _ provider.DeploymentProvider = Provider{}

// Definition 返回提供商元数据
func (Provider) Definition() model.ProviderDefinition {
	return Definition
}

// Execute 写入 PEM 文件
func (Provider) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	cfg *model.DeploymentTaskConfig, _ model.Credentials, isPreviewOnly bool) ([]model.ActionResult, error) {
	bundle, err := storage.ReadManaged(subject)
	if err != nil {
		return nil, err
	}
	cert, err := bundle.PEM()
	if err != nil {
		return nil, err
	}

	store := storage.NewFileStorage(cfg.Param("path", ""), log)
	primary := subject.PrimaryDomain()
	dir := store.GetCertDir(primary)

	if unchanged(store, primary, cert) {
		msg := fmt.Sprintf("%s 已是最新证书", dir)
		return []model.ActionResult{model.Success(msg).WithSteps([]model.ActionStep{{Category: "File", Description: msg}})}, nil
	}

	step := model.ActionStep{Category: "File", Description: fmt.Sprintf("导出 PEM 证书到 %s", dir), HasChanged: true}
	if isPreviewOnly {
		return []model.ActionResult{model.Success(step.Description).WithSteps([]model.ActionStep{step})}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := store.SaveCertificate(primary, cert); err != nil {
		return nil, err
	}
	return []model.ActionResult{model.Success(fmt.Sprintf("PEM 证书已导出到 %s", dir)).WithSteps([]model.ActionStep{step})}, nil
}

// unchanged 三个文件均与待导出内容一致
func unchanged(store *storage.FileStorage, name string, cert *provider.Certificate) bool {
	files := map[string]string{
		store.GetCertPath(name):      cert.Certificate,
		store.GetKeyPath(name):       cert.PrivateKey,
		store.GetFullchainPath(name): cert.FullChain(),
	}
	for path, want := range files {
		current, err := os.ReadFile(path)
		if err != nil || !bytes.Equal(current, []byte(want)) {
			return false
		}
	}
	return true
}
