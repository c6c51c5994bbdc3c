package deploy

import (
	"context"
	"errors"
	"fmt"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// ProviderSource 按 ID 查找部署提供商，*plugin.Registry 满足该接口
type ProviderSource interface {
	DeploymentProvider(id string) (provider.DeploymentProvider, error)
}

// CredentialSource 按 ID 查找凭证
type CredentialSource interface {
	Credentials(id string) (model.Credentials, bool)
}

// CredentialMap 内存凭证表
type CredentialMap map[string]model.Credentials

// Credentials 实现 CredentialSource
func (m CredentialMap) Credentials(id string) (model.Credentials, bool) {
	c, ok := m[id]
	return c, ok
}

// Pipeline 按顺序执行部署任务
type Pipeline struct {
	providers   ProviderSource
	credentials CredentialSource
}

// NewPipeline 创建流水线，credentials 可为 nil
func NewPipeline(providers ProviderSource, credentials CredentialSource) *Pipeline {
	if credentials == nil {
		credentials = CredentialMap{}
	}
	return &Pipeline{providers: providers, credentials: credentials}
}

// Run 按声明顺序执行符合触发条件的任务，遇到 Abort 结果时停止
func (p *Pipeline) Run(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	tasks []model.DeploymentTaskConfig, issuanceSucceeded, isPreviewOnly bool) []model.ActionResult {
	return p.run(ctx, log, subject, tasks, isPreviewOnly, func(cfg *model.DeploymentTaskConfig) bool {
		return cfg.Trigger.Matches(issuanceSucceeded)
	})
}

// Preview 以预览方式执行全部启用的任务（不区分触发条件）
func (p *Pipeline) Preview(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	tasks []model.DeploymentTaskConfig) []model.ActionResult {
	return p.run(ctx, log, subject, tasks, true, func(*model.DeploymentTaskConfig) bool { return true })
}

func (p *Pipeline) run(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate,
	tasks []model.DeploymentTaskConfig, isPreviewOnly bool, selected func(*model.DeploymentTaskConfig) bool) []model.ActionResult {
	if log == nil {
		log = logging.Nop
	}

	var results []model.ActionResult
	for i := range tasks {
		cfg := &tasks[i]
		if cfg.IsDisabled || !selected(cfg) {
			log.Verbose("跳过任务: %s (trigger=%s)", cfg.TaskName, cfg.Trigger)
			continue
		}

		if err := ctx.Err(); err != nil {
			results = append(results, model.Aborted(fmt.Sprintf("部署已取消，未执行任务 %s: %v", cfg.TaskName, err)))
			break
		}

		task, err := p.BuildTask(cfg)
		if err != nil {
			log.Warning("任务 %s: %v", cfg.TaskName, err)
			if !errors.Is(err, model.ErrProviderNotFound) {
				results = append(results, model.Failure(fmt.Sprintf("Task [%s] :: %v", cfg.TaskName, err)))
				continue
			}
		}

		taskResults := task.Execute(ctx, log, subject, isPreviewOnly)
		results = append(results, taskResults...)

		if aborted(taskResults) {
			log.Warning("任务 %s 要求中止，后续任务不再执行", cfg.TaskName)
			break
		}
	}
	return results
}

// BuildTask 根据配置查找提供商和凭证。提供商不存在时仍返回任务（提供商为空），执行时报告配置错误
func (p *Pipeline) BuildTask(cfg *model.DeploymentTaskConfig) (*Task, error) {
	task := &Task{Config: cfg}

	prov, err := p.providers.DeploymentProvider(cfg.ProviderID)
	if err != nil {
		return task, err
	}
	task.Provider = prov

	if cfg.CredentialsID != "" {
		creds, ok := p.credentials.Credentials(cfg.CredentialsID)
		if !ok {
			return task, fmt.Errorf("%w: 凭证 %s 不存在", model.ErrConfigurationMissing, cfg.CredentialsID)
		}
		task.Credentials = creds
	}
	return task, nil
}

func aborted(results []model.ActionResult) bool {
	for _, r := range results {
		if r.Abort {
			return true
		}
	}
	return false
}
