package contextengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/sourcegraph/conc"
)

// ErrInvalidRequest 请求参数非法
var ErrInvalidRequest = errors.New("invalid prepare request")

// PrepareRequest 上下文准备请求
type PrepareRequest struct {
	Query                string               `json:"query"`
	ModelID              string               `json:"model"`
	Locale               string               `json:"locale,omitempty"`
	Module               string               `json:"module,omitempty"`
	History              []domain.ChatMessage `json:"history,omitempty"`
	Context              domain.Pool          `json:"context"`
	WebSearchSources     []domain.Source      `json:"webSearchSources,omitempty"`
	LibrarySearchSources []domain.Source      `json:"librarySearchSources,omitempty"`
}

// PrepareResult 上下文准备结果
type PrepareResult struct {
	Messages           []domain.ChatMessage `json:"messages"`
	Sources            []domain.Source      `json:"sources"`
	ContextText        string               `json:"context"`
	Analysis           domain.QueryAnalysis `json:"analysis"`
	Allocation         *Allocation          `json:"allocation"`
	Model              domain.ModelInfo     `json:"model"`
	NeedPrepareContext bool                 `json:"needPrepareContext"`
}

// Engine 上下文准备入口
type Engine struct {
	counter   domain.TokenCounter
	registry  domain.ModelRegistry
	rewriter  *Rewriter
	allocator *Allocator
	metrics   *Metrics
	policy    atomic.Pointer[domain.Policy]
	logger    *slog.Logger
}

// NewEngine 创建引擎，策略非法时返回 ErrInvalidPolicy
func NewEngine(
	counter domain.TokenCounter,
	registry domain.ModelRegistry,
	rewriter *Rewriter,
	allocator *Allocator,
	policy domain.Policy,
	metrics *Metrics,
) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		counter:   counter,
		registry:  registry,
		rewriter:  rewriter,
		allocator: allocator,
		metrics:   metrics,
		logger:    log.NewModuleLogger("contextengine", "engine"),
	}
	e.policy.Store(&policy)
	return e, nil
}

// Policy 当前策略
func (e *Engine) Policy() domain.Policy {
	return *e.policy.Load()
}

// UpdatePolicy 替换策略，对之后开始的请求生效
func (e *Engine) UpdatePolicy(policy domain.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	e.policy.Store(&policy)
	e.logger.Info("Engine policy updated",
		"max_context_ratio", policy.MaxContextRatio,
		"recall_threshold_tokens", policy.RecallThresholdTokens,
	)
	return nil
}

// CountTokens 计数
func (e *Engine) CountTokens(text string) int {
	return e.counter.CountTokens(text)
}

// Prepare 执行一次完整的上下文准备
// 只有请求本身非法时返回错误；外部依赖失败均退化为可用结果
func (e *Engine) Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	policy := e.Policy()
	ctx = log.WithModelID(ctx, req.ModelID)
	logger := log.FromContext(ctx, e.logger)

	trace := []Stage{StageStart}
	model := e.lookupModel(ctx, req.ModelID, policy)

	module, ok := LookupPromptModule(req.Module)
	if !ok {
		logger.Warn("Unknown prompt module, using default", "module", req.Module)
		module, _ = LookupPromptModule(ModuleCommonQnA)
	}
	ctx = log.WithPromptModule(ctx, module.Name())

	trace = append(trace, StageQueryPrep)
	query := token.Truncate(e.counter, req.Query, int(float64(model.ContextLimit)*policy.MaxQueryTokensRatio))
	history, historyTokens := TruncateHistory(e.counter, req.History,
		int(float64(model.ContextLimit)*policy.MaxHistoryRatio), policy.MaxHistoryMessageTokens)

	trace = append(trace, StageRewriteDecision)
	analysis := domain.FallbackAnalysis(query)
	var queryTokens int
	if e.rewriter.ShouldRewrite(query, req.Context, history, policy) {
		trace = append(trace, StageRewrite)
		var wg conc.WaitGroup
		wg.Go(func() {
			analysis = e.rewriter.Rewrite(ctx, RewriteInput{
				Query:        query,
				Pool:         req.Context,
				History:      history,
				ContextLimit: model.ContextLimit,
				Policy:       policy,
			})
		})
		wg.Go(func() {
			queryTokens = e.counter.CountTokens(query)
		})
		wg.Wait()
	} else {
		trace = append(trace, StageSkip)
		e.metrics.Rewrite("skipped")
		queryTokens = e.counter.CountTokens(query)
	}
	if analysis.OptimizedQuery != query {
		queryTokens += e.counter.CountTokens(analysis.OptimizedQuery)
	}

	allocation := e.allocator.Allocate(ctx, AllocateInput{
		Query:         analysis.OptimizedQuery,
		Pool:          markMentioned(req.Context, analysis.Mentions),
		WebSearch:     req.WebSearchSources,
		LibrarySearch: req.LibrarySearchSources,
		ContextLimit:  model.ContextLimit,
		QueryTokens:   queryTokens,
		HistoryTokens: historyTokens,
		Policy:        policy,
	})
	allocation.Trace = append(trace, allocation.Trace...)

	contextText, sources := NewSerializer(policy.SourceBaseURL).Serialize(sectionsOf(allocation)...)
	needContext := !allocation.Skipped && contextText != ""

	messages := Assemble(AssembleInput{
		Module:             module,
		Locale:             req.Locale,
		History:            history,
		NeedPrepareContext: needContext,
		ContextText:        contextText,
		OriginalQuery:      query,
		OptimizedQuery:     analysis.OptimizedQuery,
		ContextCaching:     model.ContextCaching,
	})

	outcome := "prepared"
	if !needContext {
		outcome = "skipped"
	}
	e.metrics.Prepared(outcome, allocation.Budget.UsedTokens)
	logger.Info("Context prepared",
		"outcome", outcome,
		"context_limit", model.ContextLimit,
		"used_tokens", allocation.Budget.UsedTokens,
		"sources", len(sources),
		"rewritten", analysis.Rewritten,
		"exhausted", allocation.Exhausted,
	)

	return &PrepareResult{
		Messages:           messages,
		Sources:            sources,
		ContextText:        contextText,
		Analysis:           analysis,
		Allocation:         allocation,
		Model:              model,
		NeedPrepareContext: needContext,
	}, nil
}

// lookupModel 未知模型使用保守的默认窗口
func (e *Engine) lookupModel(ctx context.Context, modelID string, policy domain.Policy) domain.ModelInfo {
	info, err := e.registry.Lookup(modelID)
	if err == nil {
		return info
	}
	log.FromContext(ctx, e.logger).Warn("Model not registered, using default context limit",
		"model", modelID,
		"context_limit", policy.DefaultContextLimit,
		"error", err,
	)
	return domain.ModelInfo{ID: modelID, ContextLimit: policy.DefaultContextLimit}
}

func validateRequest(req *PrepareRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	for _, c := range domain.Categories {
		for _, item := range req.Context.Category(c) {
			if !item.Kind.Valid() {
				return fmt.Errorf("%w: unknown context item type %q", ErrInvalidRequest, item.Kind)
			}
			if got, ok := domain.CategoryOf(item.Kind); !ok || got != c {
				return fmt.Errorf("%w: item type %q is not allowed in %s", ErrInvalidRequest, item.Kind, c)
			}
		}
	}
	return nil
}

// markMentioned 按位置为被引用的条目设置引用标记，返回新的上下文池
func markMentioned(p domain.Pool, mentions []domain.Mention) domain.Pool {
	if len(mentions) == 0 {
		return p
	}
	out := p.Clone()
	for _, m := range mentions {
		items := out.Category(m.Category)
		if m.Index < 0 || m.Index >= len(items) {
			continue
		}
		items[m.Index] = items[m.Index].WithMention(m.UseWholeContent)
	}
	return out
}

// sectionsOf 按引用状态拆分分配结果
func sectionsOf(a *Allocation) []Section {
	var mentioned, other []domain.Item
	for _, item := range a.Pool.All() {
		if item.Mentioned {
			mentioned = append(mentioned, item)
		} else {
			other = append(other, item)
		}
	}

	web := make([]domain.Item, len(a.WebSearch))
	for i, s := range a.WebSearch {
		web[i] = domain.SearchResultItem(domain.KindWebSearch, s)
	}
	library := make([]domain.Item, len(a.LibrarySearch))
	for i, s := range a.LibrarySearch {
		library[i] = domain.SearchResultItem(domain.KindLibrarySearch, s)
	}

	return []Section{
		{Kind: SectionMentioned, Items: mentioned},
		{Kind: SectionOther, Items: other},
		{Kind: SectionWebSearch, Items: web},
		{Kind: SectionLibrarySearch, Items: library},
	}
}
