package contextengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testModels = staticRegistry{
	"small":   {ID: "small", ContextLimit: 1000},
	"caching": {ID: "caching", ContextLimit: 1000, ContextCaching: true},
}

func newTestEngine(t *testing.T, model domain.LanguageModel) (*Engine, *keywordOracle) {
	t.Helper()
	counter := wordCounter{}
	oracle := newKeywordOracle()
	policy := domain.DefaultPolicy()
	rewriter, err := NewRewriter(model, counter, nil)
	require.NoError(t, err)
	allocator := NewAllocator(counter, NewRanker(oracle, nil), NewRecaller(oracle, counter, policy, nil), nil)
	engine, err := NewEngine(counter, testModels, rewriter, allocator, policy, nil)
	require.NoError(t, err)
	return engine, oracle
}

func TestPrepare_NoContext(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	res, err := engine.Prepare(context.Background(), &PrepareRequest{Query: "hello there", ModelID: "small"})
	require.NoError(t, err)

	assert.False(t, res.NeedPrepareContext)
	assert.Empty(t, res.ContextText)
	assert.Empty(t, res.Sources)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, domain.RoleSystem, res.Messages[0].Role)
	assert.Contains(t, res.Messages[1].Content, "## User Query\nhello there")
	assert.Equal(t, []Stage{
		StageStart, StageQueryPrep, StageRewriteDecision, StageSkip,
		StageContextCheck, StageSkipContext, StageDone,
	}, res.Allocation.Trace)
	assert.False(t, res.Analysis.Rewritten)
}

func TestPrepare_UnknownModelUsesDefaultLimit(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   "q",
		ModelID: "not-registered",
		Context: domain.Pool{Documents: []domain.Item{item(domain.KindDocument, "d", "text")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "not-registered", res.Model.ID)
	assert.Equal(t, 16000, res.Model.ContextLimit)
	assert.Equal(t, 11200, res.Allocation.Budget.TotalTokens)
}

func TestPrepare_RewriteAndMentionedContext(t *testing.T) {
	parsed, err := json.Marshal(map[string]any{
		"analysis": map[string]any{
			"queryAnalysis":        "refers to the selected deployment document",
			"queryRewriteStrategy": "resolve 'this'",
			"summary":              "summarize the deployment guide",
		},
		"rewrittenQueries": []string{"deployment guide summary"},
		"mentionedContext": []map[string]any{
			{"type": "document", "entityId": "document-1", "title": "Deploy", "useWholeContent": true},
		},
		"intent": "summarize",
	})
	require.NoError(t, err)

	model := new(MockLanguageModel)
	model.On("InvokeStructured", mock.Anything, mock.Anything, queryAnalysisSchema).
		Return(&domain.StructuredOutput{Parsed: parsed}, nil).Once()

	engine, _ := newTestEngine(t, model)
	req := &PrepareRequest{
		Query:   "summarize this",
		ModelID: "small",
		Locale:  "zh-CN",
		History: []domain.ChatMessage{
			domain.NewHumanMessage("I uploaded two documents"),
			domain.NewAssistantMessage("I can see both of them"),
		},
		Context: domain.Pool{Documents: []domain.Item{
			item(domain.KindDocument, "doc-api", "API reference"),
			item(domain.KindDocument, "doc-deploy", "deployment guide body"),
		}},
		WebSearchSources: []domain.Source{{
			URL:         "https://example.com/deploy",
			Title:       "Deploy blog",
			PageContent: "a blog post",
			Metadata:    domain.SourceMetadata{SourceType: domain.SourceTypeWebSearch},
		}},
	}

	res, err := engine.Prepare(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Analysis.Rewritten)
	assert.Equal(t, "summarize the deployment guide", res.Analysis.OptimizedQuery)
	assert.Equal(t, domain.IntentSummarize, res.Analysis.Intent)
	assert.Equal(t, []Stage{StageStart, StageQueryPrep, StageRewriteDecision, StageRewrite}, res.Allocation.Trace[:4])
	assert.Equal(t, fullTrace, res.Allocation.Trace[4:])

	assert.True(t, res.NeedPrepareContext)
	require.Len(t, res.Sources, 3)
	assert.Equal(t, "deployment guide body", res.Sources[0].PageContent, "被引用条目排在最前")
	assert.Equal(t, "API reference", res.Sources[1].PageContent)
	assert.Equal(t, domain.SourceTypeWebSearch, res.Sources[2].Metadata.SourceType)
	assert.True(t, strings.HasPrefix(res.ContextText, "<MentionedContext>\n<ContextItem citationIndex='[[citation:1]]' type='document' entityId='doc-deploy'"))
	assert.Less(t, strings.Index(res.ContextText, "<OtherContext>"), strings.Index(res.ContextText, "<WebSearchContext>"))

	require.Len(t, res.Messages, 5)
	assert.Equal(t, "I uploaded two documents", res.Messages[1].Content)
	assert.Equal(t, "<context>\n"+res.ContextText+"\n</context>", res.Messages[3].Content)
	assert.Contains(t, res.Messages[4].Content, "## Rewritten User Query\nsummarize the deployment guide")
	assert.Contains(t, res.Messages[4].Content, "zh-CN")

	assert.False(t, req.Context.Documents[1].Mentioned, "请求不被修改")
	model.AssertExpectations(t)
}

func TestPrepare_MentionWithoutEntityID(t *testing.T) {
	parsed, err := json.Marshal(map[string]any{
		"analysis": map[string]any{
			"queryAnalysis":        "refers to the first selection",
			"queryRewriteStrategy": "resolve 'this'",
			"summary":              "explain the first selection",
		},
		"rewrittenQueries": []string{},
		"mentionedContext": []map[string]any{
			{"type": "selectedContent", "entityId": "content-0", "title": "first", "useWholeContent": true},
		},
		"intent": "general_qna",
	})
	require.NoError(t, err)

	model := new(MockLanguageModel)
	model.On("InvokeStructured", mock.Anything, mock.Anything, queryAnalysisSchema).
		Return(&domain.StructuredOutput{Parsed: parsed}, nil).Once()

	engine, _ := newTestEngine(t, model)
	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   "explain this",
		ModelID: "small",
		Context: domain.Pool{ContentList: []domain.Item{
			{Kind: domain.KindSelectedContent, Content: "first selection"},
			{Kind: domain.KindSelectedContent, Content: "second selection"},
		}},
	})
	require.NoError(t, err)

	got := res.Allocation.Pool.ContentList
	require.Len(t, got, 2)
	assert.True(t, got[0].Mentioned)
	assert.True(t, got[0].UseWholeContent)
	assert.False(t, got[1].Mentioned, "没有 EntityID 的条目按位置区分")
	assert.False(t, got[1].UseWholeContent)

	mentioned := res.ContextText[:strings.Index(res.ContextText, "<OtherContext>")]
	assert.Contains(t, mentioned, "first selection")
	assert.NotContains(t, mentioned, "second selection")
	model.AssertExpectations(t)
}

func TestMarkMentioned(t *testing.T) {
	pool := domain.Pool{
		ContentList: []domain.Item{
			{Kind: domain.KindSelectedContent, Content: "a"},
			{Kind: domain.KindSelectedContent, Content: "b"},
		},
		Documents: []domain.Item{item(domain.KindDocument, "d", "c")},
	}

	t.Run("按位置标记", func(t *testing.T) {
		out := markMentioned(pool, []domain.Mention{
			{Category: domain.CategorySelectedContent, Index: 1},
			{Category: domain.CategoryDocuments, Index: 0, UseWholeContent: true},
		})
		assert.False(t, out.ContentList[0].Mentioned)
		assert.True(t, out.ContentList[1].Mentioned)
		assert.True(t, out.Documents[0].UseWholeContent)
		assert.False(t, pool.ContentList[1].Mentioned, "输入池不被修改")
	})

	t.Run("越界位置被忽略", func(t *testing.T) {
		out := markMentioned(pool, []domain.Mention{{Category: domain.CategoryResources, Index: 0}, {Category: domain.CategorySelectedContent, Index: -1}})
		for _, it := range out.All() {
			assert.False(t, it.Mentioned)
		}
	})
}

func TestPrepare_RewriteFailureFallsBack(t *testing.T) {
	model := new(MockLanguageModel)
	model.On("InvokeStructured", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("upstream 500"))

	engine, _ := newTestEngine(t, model)
	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   "translate this",
		ModelID: "small",
		History: []domain.ChatMessage{domain.NewHumanMessage("What is Docker?")},
	})
	require.NoError(t, err, "改写失败不影响主流程")

	assert.Equal(t, domain.FallbackAnalysis("translate this"), res.Analysis)
	assert.Contains(t, res.Messages[len(res.Messages)-1].Content, "## User Query\ntranslate this")
	model.AssertNumberOfCalls(t, "InvokeStructured", 3)
}

func TestPrepare_ContextCachingModel(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   "q",
		ModelID: "caching",
		Context: domain.Pool{ContentList: []domain.Item{item(domain.KindSelectedContent, "", "selected")}},
	})
	require.NoError(t, err)

	require.Len(t, res.Messages, 3)
	assert.True(t, res.Messages[0].CacheControl)
	assert.True(t, res.Messages[1].CacheControl)
	assert.False(t, res.Messages[2].CacheControl)
}

func TestPrepare_BudgetNeverExceeded(t *testing.T) {
	engine, oracle := newTestEngine(t, nil)

	docs := make([]domain.Item, 0, 8)
	for i := 0; i < 8; i++ {
		docs = append(docs, item(domain.KindDocument, fmt.Sprintf("d%d", i), words(fmt.Sprintf("d%d-", i), 200)))
	}
	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   words("q", 20),
		ModelID: "small",
		History: []domain.ChatMessage{domain.NewHumanMessage(words("h", 150))},
		Context: domain.Pool{
			ContentList: []domain.Item{item(domain.KindSelectedContent, "", words("s", 300))},
			Documents:   docs,
		},
	})
	require.NoError(t, err)

	a := res.Allocation
	assert.LessOrEqual(t, a.Budget.UsedTokens, a.Budget.TotalTokens)
	// query 20 + history 150 占用后剩余 830，上限为 700
	assert.Equal(t, 700, a.Budget.TotalTokens)
	assert.True(t, a.Exhausted)
	assert.NotEmpty(t, a.Dropped())

	content := 0
	for _, it := range a.Pool.All() {
		content += wordCounter{}.CountTokens(it.Content)
	}
	assert.Less(t, content, a.Budget.UsedTokens, "已用预算包含序列化包装")
	assert.LessOrEqual(t, wordCounter{}.CountTokens(res.ContextText), a.Budget.UsedTokens)
	assert.Zero(t, oracle.live())
}

func TestPrepare_ManySmallItemsStayWithinBudget(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	snippets := make([]domain.Item, 0, 300)
	for i := 0; i < 300; i++ {
		snippets = append(snippets, item(domain.KindSelectedContent, "", fmt.Sprintf("snippet%d body", i)))
	}
	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   "q",
		ModelID: "small",
		Context: domain.Pool{ContentList: snippets},
	})
	require.NoError(t, err)

	a := res.Allocation
	assert.Equal(t, 700, a.Budget.TotalTokens)
	assert.LessOrEqual(t, wordCounter{}.CountTokens(res.ContextText), a.Budget.TotalTokens)
	assert.Less(t, len(res.Sources), 300)
	assert.True(t, a.Exhausted)
}

func TestPrepare_InvalidRequest(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	tests := []struct {
		name string
		req  *PrepareRequest
	}{
		{"空请求", nil},
		{"未知类型", &PrepareRequest{Query: "q", Context: domain.Pool{Documents: []domain.Item{item("bogus", "x", "y")}}}},
		{"类型与分组不符", &PrepareRequest{Query: "q", Context: domain.Pool{Resources: []domain.Item{item(domain.KindDocument, "x", "y")}}}},
		{"搜索结果混入上下文池", &PrepareRequest{Query: "q", Context: domain.Pool{Documents: []domain.Item{item(domain.KindWebSearch, "x", "y")}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Prepare(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestEngine_UpdatePolicy(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	bad := domain.DefaultPolicy()
	bad.MaxContextRatio = 1.5
	assert.ErrorIs(t, engine.UpdatePolicy(bad), domain.ErrInvalidPolicy)
	assert.Equal(t, domain.DefaultPolicy(), engine.Policy())

	next := domain.DefaultPolicy()
	next.MaxContextRatio = 0.5
	require.NoError(t, engine.UpdatePolicy(next))

	res, err := engine.Prepare(context.Background(), &PrepareRequest{
		Query:   "q",
		ModelID: "small",
		Context: domain.Pool{Documents: []domain.Item{item(domain.KindDocument, "d", "text")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 500, res.Allocation.Budget.TotalTokens)

	_, err = NewEngine(wordCounter{}, testModels, nil, nil, bad, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestPrepare_Concurrent(t *testing.T) {
	engine, oracle := newTestEngine(t, nil)

	var wg conc.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Go(func() {
			res, err := engine.Prepare(context.Background(), &PrepareRequest{
				Query:   fmt.Sprintf("docker %d", i),
				ModelID: "small",
				Context: domain.Pool{Documents: []domain.Item{
					item(domain.KindDocument, "a", words("a", 300)),
					item(domain.KindDocument, "b", "docker "+words("b", 300)),
				}},
			})
			assert.NoError(t, err)
			assert.LessOrEqual(t, res.Allocation.Budget.UsedTokens, res.Allocation.Budget.TotalTokens)
		})
	}
	wg.Wait()
	assert.Zero(t, oracle.live(), "并发请求的批次互不干扰且全部删除")
}
