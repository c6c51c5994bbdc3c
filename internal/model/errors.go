package model

import "errors"

var (
	// ErrProviderNotFound 插件注册表中不存在该提供商
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderExecutionFailure 提供商执行失败（错误或 panic）
	ErrProviderExecutionFailure = errors.New("provider execution failed")

	// ErrValidationFailure 域名或挑战校验失败
	ErrValidationFailure = errors.New("validation failed")

	// ErrBindingConflict 存在多个同等优先级的候选绑定
	ErrBindingConflict = errors.New("binding conflict")

	// ErrConfigurationMissing 缺少必需的配置或凭证
	ErrConfigurationMissing = errors.New("configuration missing")
)
