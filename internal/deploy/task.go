// Package deploy 执行证书部署任务与任务流水线
package deploy

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/metrics"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// NotConfiguredMessage 任务缺少提供商或配置时的结果消息
const NotConfiguredMessage = "Cannot Execute Deployment Task: TaskProvider or Config not set."

// Task 部署任务：一个提供商加一份配置
type Task struct {
	Provider    provider.DeploymentProvider
	Config      *model.DeploymentTaskConfig
	Credentials model.Credentials
}

// NewTask 创建部署任务
func NewTask(p provider.DeploymentProvider, cfg *model.DeploymentTaskConfig, creds model.Credentials) *Task {
	return &Task{Provider: p, Config: cfg, Credentials: creds}
}

// Name 任务名称
func (t *Task) Name() string {
	if t.Config == nil {
		return ""
	}
	if t.Config.TaskName != "" {
		return t.Config.TaskName
	}
	return t.Config.ProviderID
}

// Execute 执行任务。提供商的错误和 panic 都转换为一条失败结果，本方法不会 panic
func (t *Task) Execute(ctx context.Context, log logging.Logger, subject *model.ManagedCertificate, isPreviewOnly bool) (results []model.ActionResult) {
	if log == nil {
		log = logging.Nop
	}
	if t == nil || t.Provider == nil || t.Config == nil {
		log.Error(NotConfiguredMessage)
		return []model.ActionResult{model.Failure(NotConfiguredMessage)}
	}

	def := t.Provider.Definition()
	if err := ctx.Err(); err != nil {
		return []model.ActionResult{model.Aborted(fmt.Sprintf("Task [%s] :: %s :: 已取消: %v", t.Name(), def.Title, err))}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("任务 %s 发生 panic: %v\n%s", t.Name(), r, debug.Stack())
			results = []model.ActionResult{t.failure(def, fmt.Errorf("panic: %v", r))}
		}
		ok := len(results) > 0
		for _, r := range results {
			ok = ok && r.IsSuccess
		}
		metrics.DeploymentTasksTotal.WithLabelValues(def.ID, metrics.Status(ok), strconv.FormatBool(isPreviewOnly)).Inc()
		metrics.DeploymentTaskDuration.WithLabelValues(def.ID).Observe(time.Since(start).Seconds())
	}()

	if missing := def.MissingParameters(t.Config); len(missing) > 0 {
		err := fmt.Errorf("%w: 缺少参数 %v", model.ErrConfigurationMissing, missing)
		log.Error("任务 %s 配置不完整: %v", t.Name(), err)
		return []model.ActionResult{t.failure(def, err)}
	}

	if isPreviewOnly {
		log.Information("预览任务: %s (%s)", t.Name(), def.Title)
	} else {
		log.Information("执行任务: %s (%s)", t.Name(), def.Title)
	}

	out, err := t.Provider.Execute(ctx, log, subject, t.Config, t.Credentials, isPreviewOnly)
	if err != nil {
		log.Error("任务 %s 执行失败: %v", t.Name(), err)
		return []model.ActionResult{t.failure(def, err)}
	}
	return out
}

func (t *Task) failure(def model.ProviderDefinition, err error) model.ActionResult {
	wrapped := fmt.Errorf("%w: %w", model.ErrProviderExecutionFailure, err)
	return model.Failure(fmt.Sprintf("Task [%s] :: %s :: %v", t.Name(), def.Title, wrapped))
}
