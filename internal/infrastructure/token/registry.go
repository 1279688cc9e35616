package token

import (
	"sort"
	"strings"
	"sync"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
)

// builtinModels 内置模型窗口表
var builtinModels = []domain.ModelInfo{
	{ID: "gpt-4o", ContextLimit: 128000},
	{ID: "gpt-4o-mini", ContextLimit: 128000},
	{ID: "gpt-4.1", ContextLimit: 1047576},
	{ID: "gpt-4.1-mini", ContextLimit: 1047576},
	{ID: "gpt-4-turbo", ContextLimit: 128000},
	{ID: "gpt-4", ContextLimit: 8192},
	{ID: "gpt-3.5-turbo", ContextLimit: 16385},
	{ID: "o3-mini", ContextLimit: 200000},
	{ID: "claude-3-5-sonnet", ContextLimit: 200000, ContextCaching: true},
	{ID: "claude-3-7-sonnet", ContextLimit: 200000, ContextCaching: true},
	{ID: "claude-3-5-haiku", ContextLimit: 200000, ContextCaching: true},
	{ID: "deepseek-chat", ContextLimit: 64000},
	{ID: "deepseek-reasoner", ContextLimit: 64000},
	{ID: "gemini-1.5-pro", ContextLimit: 2000000},
	{ID: "gemini-2.0-flash", ContextLimit: 1048576},
}

// Registry 静态模型注册表
type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.ModelInfo
}

// NewRegistry 创建注册表，overrides 覆盖或追加内置模型
func NewRegistry(overrides []domain.ModelInfo) *Registry {
	r := &Registry{
		models: make(map[string]domain.ModelInfo, len(builtinModels)+len(overrides)),
	}
	for _, m := range builtinModels {
		r.models[normalizeModelID(m.ID)] = m
	}
	for _, m := range overrides {
		if m.ID == "" || m.ContextLimit <= 0 {
			continue
		}
		r.models[normalizeModelID(m.ID)] = m
	}
	return r
}

// Lookup 查找模型信息
func (r *Registry) Lookup(modelID string) (domain.ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.models[normalizeModelID(modelID)]
	if !ok {
		return domain.ModelInfo{}, &domain.UnknownModelError{ModelID: modelID}
	}
	return info, nil
}

// ContextLimit 返回模型窗口大小
func (r *Registry) ContextLimit(modelID string) (int, error) {
	info, err := r.Lookup(modelID)
	if err != nil {
		return 0, err
	}
	return info.ContextLimit, nil
}

// ContextLimitOr 未知模型时返回 fallback
func (r *Registry) ContextLimitOr(modelID string, fallback int) int {
	limit, err := r.ContextLimit(modelID)
	if err != nil {
		return fallback
	}
	return limit
}

// Models 返回按 ID 排序的全部模型
func (r *Registry) Models() []domain.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeModelID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
