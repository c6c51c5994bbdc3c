package model

import (
	"sort"
	"strings"
)

// TaskTrigger 部署任务的触发条件
type TaskTrigger string

const (
	TriggerAlways    TaskTrigger = "always"
	TriggerOnSuccess TaskTrigger = "on-success"
	TriggerOnFailure TaskTrigger = "on-failure"
)

// Matches 判断任务是否应在给定的签发结果下执行
func (t TaskTrigger) Matches(issuanceSucceeded bool) bool {
	switch t {
	case TriggerAlways, "":
		return true
	case TriggerOnSuccess:
		return issuanceSucceeded
	case TriggerOnFailure:
		return !issuanceSucceeded
	default:
		return false
	}
}

// DeploymentTaskConfig 部署任务配置
type DeploymentTaskConfig struct {
	ID            string            `yaml:"id,omitempty" json:"id,omitempty"`
	TaskName      string            `yaml:"name" json:"name" validate:"required"`
	ProviderID    string            `yaml:"provider" json:"provider" validate:"required"`
	Trigger       TaskTrigger       `yaml:"trigger,omitempty" json:"trigger,omitempty" validate:"omitempty,oneof=always on-success on-failure"`
	Parameters    map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	CredentialsID string            `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	IsDisabled    bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Param 读取参数，不存在时返回默认值
func (c *DeploymentTaskConfig) Param(key, def string) string {
	if c == nil {
		return def
	}
	if v, ok := c.Parameters[key]; ok && v != "" {
		return v
	}
	return def
}

// Credentials 构造后只读的凭证集合
type Credentials struct {
	values map[string]string
}

// NewCredentials 复制传入的键值，之后对原 map 的修改不影响凭证
func NewCredentials(values map[string]string) Credentials {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[strings.ToLower(k)] = v
	}
	return Credentials{values: copied}
}

// Get 读取凭证值，键不区分大小写
func (c Credentials) Get(key string) string {
	return c.values[strings.ToLower(key)]
}

// Lookup 读取凭证值并返回是否存在
func (c Credentials) Lookup(key string) (string, bool) {
	v, ok := c.values[strings.ToLower(key)]
	return v, ok
}

// Len 凭证数量
func (c Credentials) Len() int {
	return len(c.values)
}

// Keys 返回排序后的键列表
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Require 校验必需的键均存在且非空
func (c Credentials) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.Get(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingCredentialsError{Keys: missing}
	}
	return nil
}

// MissingCredentialsError 缺少凭证项
type MissingCredentialsError struct {
	Keys []string
}

func (e *MissingCredentialsError) Error() string {
	return "missing credentials: " + strings.Join(e.Keys, ", ")
}

func (e *MissingCredentialsError) Unwrap() error {
	return ErrConfigurationMissing
}
