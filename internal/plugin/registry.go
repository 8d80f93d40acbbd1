package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory 根据配置参数构造插件实例。
type Factory func(params map[string]interface{}) (Plugin, error)

// Registry 维护插件标识到工厂的映射。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 注册插件工厂，重复注册视为装配错误。
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("plugin: 插件标识不能为空")
	}
	if factory == nil {
		return fmt.Errorf("plugin: 插件 %q 缺少工厂", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("plugin: 插件 %q 重复注册", id)
	}
	r.factories[id] = factory
	return nil
}

// Lookup 返回插件工厂。
func (r *Registry) Lookup(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[id]
	return factory, ok
}

// IDs 返回已注册的插件标识，按字典序排序。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
