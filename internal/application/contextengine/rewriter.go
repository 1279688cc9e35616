package contextengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
)

// RewriteInput 改写输入
type RewriteInput struct {
	Query        string
	Pool         domain.Pool
	History      []domain.ChatMessage
	ContextLimit int
	Policy       domain.Policy
}

// Rewriter 查询改写
type Rewriter struct {
	model     domain.LanguageModel
	counter   domain.TokenCounter
	extractor *StructuredExtractor
	metrics   *Metrics
	logger    *slog.Logger
}

// NewRewriter 创建改写器，model 为 nil 时总是回退到原始查询
func NewRewriter(model domain.LanguageModel, counter domain.TokenCounter, metrics *Metrics) (*Rewriter, error) {
	r := &Rewriter{
		model:   model,
		counter: counter,
		metrics: metrics,
		logger:  log.NewModuleLogger("contextengine", "rewriter"),
	}
	if model != nil {
		extractor, err := NewStructuredExtractor(model, queryAnalysisSchema, domain.DefaultPolicy().MaxExtractionAttempts)
		if err != nil {
			return nil, err
		}
		r.extractor = extractor
	}
	return r, nil
}

// ShouldRewrite 查询足够短且存在上下文或历史时才改写
func (r *Rewriter) ShouldRewrite(query string, pool domain.Pool, history []domain.ChatMessage, policy domain.Policy) bool {
	if r.model == nil || strings.TrimSpace(query) == "" {
		return false
	}
	if pool.IsEmpty() && len(history) == 0 {
		return false
	}
	return r.counter.CountTokens(query) < policy.RewriteMaxQueryTokens
}

// Rewrite 改写查询并识别被引用的上下文
// 任何失败都回退为原始查询与空引用集合，不返回错误
func (r *Rewriter) Rewrite(ctx context.Context, in RewriteInput) domain.QueryAnalysis {
	logger := log.FromContext(ctx, r.logger)
	if r.extractor == nil {
		return domain.FallbackAnalysis(in.Query)
	}

	idMap := NewIDMap(in.Pool)
	maxContextTokens := int(float64(in.ContextLimit) * in.Policy.MaxContextRatio)
	messages := []domain.ChatMessage{
		domain.NewSystemMessage(rewriteSystemPrompt),
		domain.NewHumanMessage(buildRewriteUserPrompt(
			in.Query,
			summarizeContext(r.counter, idMap.Synthesized(), maxContextTokens),
			summarizeHistory(r.counter, in.History, in.Policy.RewriteHistoryMessages),
		)),
	}

	extractor := r.extractor.withMaxAttempts(in.Policy.MaxExtractionAttempts)
	data, err := extractor.Extract(ctx, messages)
	if err != nil {
		logger.Warn("Query rewrite failed, using original query", "error", err)
		r.metrics.Rewrite("fallback")
		return domain.FallbackAnalysis(in.Query)
	}

	var out rewriteOutput
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn("Failed to decode query analysis, using original query", "error", err)
		r.metrics.Rewrite("fallback")
		return domain.FallbackAnalysis(in.Query)
	}

	analysis := toAnalysis(in.Query, out, idMap)
	logger.Debug("Query rewritten",
		"optimized_query", analysis.OptimizedQuery,
		"rewritten_queries", len(analysis.RewrittenQueries),
		"mentioned", analysis.MentionedContext.Len(),
		"intent", analysis.Intent,
	)
	r.metrics.Rewrite("rewritten")
	return analysis
}

func toAnalysis(query string, out rewriteOutput, idMap *IDMap) domain.QueryAnalysis {
	optimized := strings.TrimSpace(out.Analysis.Summary)
	if optimized == "" {
		optimized = query
	}

	confidence := 0.0
	if out.Confidence != nil {
		confidence = *out.Confidence
	}

	mentioned, mentions := idMap.ResolveMentions(out.MentionedContext)
	return domain.QueryAnalysis{
		OriginalQuery:    query,
		OptimizedQuery:   optimized,
		RewrittenQueries: dedupeQueries(append([]string{optimized, query}, out.RewrittenQueries...)),
		MentionedContext: mentioned,
		Mentions:         mentions,
		Intent:           domain.ParseIntent(out.Intent),
		Confidence:       confidence,
		Reasoning:        reasoning(out),
		Rewritten:        true,
	}
}

func reasoning(out rewriteOutput) string {
	a, s := strings.TrimSpace(out.Analysis.QueryAnalysis), strings.TrimSpace(out.Analysis.QueryRewriteStrategy)
	switch {
	case a == "":
		return s
	case s == "":
		return a
	default:
		return fmt.Sprintf("%s; %s", a, s)
	}
}

// dedupeQueries 去除空串与重复项，保留首次出现顺序
func dedupeQueries(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}
