package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"ssl-deployer/internal/model"
	"ssl-deployer/internal/provider"
)

// Factory 根据凭证创建提供商实例
type Factory func(creds model.Credentials) (any, error)

// Bundle 一组提供商的注册函数
type Bundle func(r *Registry) error

type entry struct {
	definition model.ProviderDefinition
	factory    Factory
}

// Registry 提供商注册表，按能力分类，ID 不区分大小写
type Registry struct {
	mu      sync.RWMutex
	entries map[model.Capability]map[string]entry

	loadOnce sync.Once
	loadErr  error
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.Capability]map[string]entry)}
}

// Register 注册提供商，同一能力下 ID 重复时报错
func (r *Registry) Register(capability model.Capability, def model.ProviderDefinition, factory Factory) error {
	if def.ID == "" {
		return fmt.Errorf("提供商ID不能为空")
	}
	if factory == nil {
		return fmt.Errorf("提供商 %s 未设置工厂函数", def.ID)
	}
	def.Capability = capability
	key := strings.ToLower(def.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.entries[capability]
	if !ok {
		byID = make(map[string]entry)
		r.entries[capability] = byID
	}
	if _, exists := byID[key]; exists {
		return fmt.Errorf("提供商 %s (%s) 重复注册", def.ID, capability)
	}
	byID[key] = entry{definition: def, factory: factory}
	return nil
}

// Load 执行注册函数，只在首次调用时生效；任一注册失败则返回错误，后续调用返回同一错误
func (r *Registry) Load(bundles ...Bundle) error {
	r.loadOnce.Do(func() {
		for i, b := range bundles {
			if err := b(r); err != nil {
				r.loadErr = fmt.Errorf("加载提供商 (第 %d 组) 失败: %w", i+1, err)
				return
			}
		}
	})
	return r.loadErr
}

// GetProvider 创建提供商实例；未注册的 ID 返回 ErrProviderNotFound
func (r *Registry) GetProvider(capability model.Capability, id string, creds model.Credentials) (any, error) {
	e, ok := r.lookup(capability, id)
	if !ok {
		return nil, fmt.Errorf("%s 提供商 %q: %w", capability, id, model.ErrProviderNotFound)
	}
	instance, err := e.factory(creds)
	if err != nil {
		return nil, fmt.Errorf("创建提供商 %s 失败: %w", e.definition.ID, err)
	}
	return instance, nil
}

// Definition 读取提供商元数据，不创建实例
func (r *Registry) Definition(capability model.Capability, id string) (model.ProviderDefinition, bool) {
	e, ok := r.lookup(capability, id)
	return e.definition, ok
}

// GetProviders 返回指定能力下全部已注册提供商的元数据，按 ID 排序
func (r *Registry) GetProviders(capability model.Capability) []model.ProviderDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ProviderDefinition, 0, len(r.entries[capability]))
	for _, e := range r.entries[capability] {
		defs = append(defs, e.definition)
	}
	sort.Slice(defs, func(i, j int) bool {
		return strings.ToLower(defs[i].ID) < strings.ToLower(defs[j].ID)
	})
	return defs
}

// DeploymentProvider 获取部署提供商
func (r *Registry) DeploymentProvider(id string) (provider.DeploymentProvider, error) {
	instance, err := r.GetProvider(model.CapabilityDeployment, id, model.Credentials{})
	if err != nil {
		return nil, err
	}
	p, ok := instance.(provider.DeploymentProvider)
	if !ok {
		return nil, fmt.Errorf("提供商 %s 不是部署提供商", id)
	}
	return p, nil
}

// DNSProvider 使用凭证创建 DNS 提供商
func (r *Registry) DNSProvider(id string, creds model.Credentials) (provider.DNSProvider, error) {
	instance, err := r.GetProvider(model.CapabilityDNS, id, creds)
	if err != nil {
		return nil, err
	}
	p, ok := instance.(provider.DNSProvider)
	if !ok {
		return nil, fmt.Errorf("提供商 %s 不是DNS提供商", id)
	}
	return p, nil
}

func (r *Registry) lookup(capability model.Capability, id string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[capability][strings.ToLower(strings.TrimSpace(id))]
	return e, ok
}
