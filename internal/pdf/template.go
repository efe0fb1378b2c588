package pdf

import (
	"sort"
	"strings"
	"sync"
)

// Template 是排版策略：把简历排成分页的元素列表。
type Template interface {
	Name() string
	Layout(m Measurer, in Input) (*Layout, error)
}

// DefaultTemplate 是未知模板名时的回退模板。
const DefaultTemplate = "modern"

// Registry 保存可用模板。
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry 返回包含内置模板的注册表。
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	r.Register(ModernTemplate{})
	return r
}

// Register 注册或覆盖模板。
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[strings.ToLower(t.Name())] = t
}

// Lookup 按名称查找模板，找不到时回退到 modern。
func (r *Registry) Lookup(name string) Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.templates[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return r.templates[DefaultTemplate]
}

// Names 返回已注册模板名（已排序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
