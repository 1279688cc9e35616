package contextengine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fullTrace = []Stage{
	StageContextCheck, StagePrepare, StageAllocate,
	StageRankPerCategory, StageRecallOversized, StageTrimToFit, StageDone,
}

// newTestAllocator 只按正文计费，便于精确推算各类别的分配
func newTestAllocator(oracle domain.SimilarityOracle) *Allocator {
	return newFramedAllocator(oracle, 0)
}

// newFramedAllocator 每个条目额外计 perItem 个 Token 的包装开销
func newFramedAllocator(oracle domain.SimilarityOracle, perItem int) *Allocator {
	counter := wordCounter{}
	a := NewAllocator(counter, NewRanker(oracle, nil), NewRecaller(oracle, counter, domain.DefaultPolicy(), nil), nil)
	a.framingFor = func(domain.Policy, int) framing { return flatFraming{counter: counter, perItem: perItem} }
	return a
}

func outcomeOf(t *testing.T, a *Allocation, id string) ItemOutcome {
	t.Helper()
	for _, o := range a.Outcomes {
		if o.EntityID == id {
			return o
		}
	}
	t.Fatalf("no outcome for %s", id)
	return ItemOutcome{}
}

func TestAllocate_SkipsContext(t *testing.T) {
	pool := domain.Pool{Documents: []domain.Item{item(domain.KindDocument, "a", words("a", 10))}}

	tests := []struct {
		name string
		in   AllocateInput
	}{
		{"查询和历史占满窗口", AllocateInput{Pool: pool, ContextLimit: 100, QueryTokens: 60, HistoryTokens: 40}},
		{"没有候选内容", AllocateInput{ContextLimit: 100, QueryTokens: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Policy = domain.DefaultPolicy()
			a := newTestAllocator(newKeywordOracle()).Allocate(context.Background(), tt.in)

			assert.True(t, a.Skipped)
			assert.Equal(t, []Stage{StageContextCheck, StageSkipContext, StageDone}, a.Trace)
			assert.True(t, a.Pool.IsEmpty())
			assert.Zero(t, a.Budget.UsedTokens)
		})
	}
}

func TestAllocate_EverythingFits(t *testing.T) {
	pool := domain.Pool{
		ContentList: []domain.Item{item(domain.KindSelectedContent, "s", words("s", 5))},
		Documents:   []domain.Item{item(domain.KindDocument, "d", words("d", 10))},
		Resources:   []domain.Item{item(domain.KindResource, "r", words("r", 10))},
	}

	a := newTestAllocator(newKeywordOracle()).Allocate(context.Background(), AllocateInput{
		Query:        "q",
		Pool:         pool,
		ContextLimit: 1000,
		QueryTokens:  10,
		Policy:       domain.DefaultPolicy(),
	})

	assert.False(t, a.Skipped)
	assert.Equal(t, fullTrace, a.Trace)
	assert.Equal(t, 700, a.Budget.TotalTokens)
	assert.Equal(t, 25, a.Budget.UsedTokens)
	assert.Equal(t, pool, a.Pool)
	assert.Empty(t, a.Dropped())
	assert.Empty(t, a.Truncated())
	assert.False(t, a.Exhausted)
}

func TestAllocate_PriorityAndRanking(t *testing.T) {
	// total = 100 * 0.7 = 70
	pool := domain.Pool{
		ContentList: []domain.Item{item(domain.KindSelectedContent, "s", words("s", 30))},
		Documents: []domain.Item{
			item(domain.KindDocument, "d-plain", words("a", 30)),
			item(domain.KindDocument, "d-match", "docker "+words("b", 29)),
		},
		Resources: []domain.Item{item(domain.KindResource, "r", words("r", 30))},
	}
	oracle := newKeywordOracle()

	a := newTestAllocator(oracle).Allocate(context.Background(), AllocateInput{
		Query:        "docker",
		Pool:         pool,
		ContextLimit: 100,
		Policy:       domain.DefaultPolicy(),
	})

	assert.Equal(t, 70, a.Budget.TotalTokens)
	assert.LessOrEqual(t, a.Budget.UsedTokens, a.Budget.TotalTokens)

	s := outcomeOf(t, a, "s")
	assert.Equal(t, ActionAccepted, s.Action, "最高优先级类别完整保留")
	assert.Equal(t, 30, s.FinalTokens)

	match := outcomeOf(t, a, "d-match")
	assert.Equal(t, ActionTruncated, match.Action, "相关度高的文档优先占用预算")
	assert.Equal(t, 17, match.FinalTokens)

	plain := outcomeOf(t, a, "d-plain")
	assert.Equal(t, ActionDropped, plain.Action)
	assert.Equal(t, ReasonBudgetExhausted, plain.Reason)
	assert.True(t, a.Exhausted)

	require.Len(t, a.Pool.Documents, 1)
	assert.True(t, strings.HasPrefix(a.Pool.Documents[0].Content, "docker b0"))
	assert.Equal(t, "docker "+words("b", 29), pool.Documents[1].Content, "输入池不被修改")

	assert.Equal(t, 35, a.Budget.PerCategoryTokens[domain.CategorySelectedContent])
	assert.Equal(t, 17, a.Budget.PerCategoryTokens[domain.CategoryDocuments])
	assert.Equal(t, 23, a.Budget.PerCategoryTokens[domain.CategoryResources])
	assert.Zero(t, oracle.live())
}

func TestAllocate_MentionedFirst(t *testing.T) {
	mentioned := item(domain.KindDocument, "d-mentioned", words("m", 30)).WithMention(false)
	pool := domain.Pool{
		Documents: []domain.Item{item(domain.KindDocument, "d-other", words("o", 30)), mentioned},
		Resources: []domain.Item{item(domain.KindResource, "r", words("r", 50))},
	}

	a := newTestAllocator(newKeywordOracle()).Allocate(context.Background(), AllocateInput{
		Query:        "unrelated",
		Pool:         pool,
		ContextLimit: 100,
		Policy:       domain.DefaultPolicy(),
	})

	require.Len(t, a.Pool.Documents, 1)
	assert.Equal(t, "d-mentioned", a.Pool.Documents[0].Metadata.EntityID)
	assert.True(t, a.Pool.Documents[0].Mentioned)
	assert.Equal(t, ActionTruncated, outcomeOf(t, a, "d-mentioned").Action)
	assert.Equal(t, ActionDropped, outcomeOf(t, a, "d-other").Action)
	assert.Equal(t, ActionAccepted, outcomeOf(t, a, "r").Action)
	assert.Equal(t, 70, a.Budget.UsedTokens)
}

func TestAllocate_RecallsOversizedItem(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.RecallThresholdTokens = 50
	policy.ChunkTokens = 10
	policy.ChunkOverlapTokens = 0

	text := words("w", 400) + " kubernetes " + words("v", 399)
	pool := domain.Pool{Documents: []domain.Item{item(domain.KindDocument, "big", text)}}
	oracle := newKeywordOracle()

	a := newTestAllocator(oracle).Allocate(context.Background(), AllocateInput{
		Query:        "kubernetes",
		Pool:         pool,
		ContextLimit: 1000,
		Policy:       policy,
	})

	o := outcomeOf(t, a, "big")
	assert.Equal(t, ActionRecalled, o.Action)
	assert.Equal(t, 800, o.OriginalTokens)
	assert.LessOrEqual(t, o.FinalTokens, 50)

	require.Len(t, a.Pool.Documents, 1)
	assert.Contains(t, a.Pool.Documents[0].Content, "kubernetes", "召回结果包含最相关的片段")
	assert.Equal(t, o.FinalTokens, a.Budget.UsedTokens)

	require.NotEmpty(t, oracle.indexed)
	assert.True(t, strings.HasPrefix(oracle.indexed[0], "recall-"))
	assert.Zero(t, oracle.live())
}

func TestAllocate_RecallWithoutFittingChunkTruncates(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.RecallThresholdTokens = 50
	policy.ChunkTokens = 100
	policy.ChunkOverlapTokens = 0

	// total = 140；片段 100 个单词，召回预算 50，没有片段能整体放下
	pool := domain.Pool{Documents: []domain.Item{item(domain.KindDocument, "big", words("w", 300))}}
	oracle := newKeywordOracle()

	a := newTestAllocator(oracle).Allocate(context.Background(), AllocateInput{
		Query:        "w150",
		Pool:         pool,
		ContextLimit: 200,
		Policy:       policy,
	})

	o := outcomeOf(t, a, "big")
	assert.Equal(t, ActionTruncated, o.Action)
	assert.Equal(t, ReasonBudgetExhausted, o.Reason)
	assert.Equal(t, 50, o.FinalTokens)

	require.Len(t, a.Pool.Documents, 1)
	assert.True(t, strings.HasPrefix(a.Pool.Documents[0].Content, "w0 w1 "), "截断保留原文开头")
	assert.NotContains(t, a.Pool.Documents[0].Content, GapMarker)
	assert.Zero(t, oracle.live())
}

func TestAllocate_WholeContentMentionAccepted(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.RecallThresholdTokens = 20

	// total = 280，文档类别分得 70，两篇文档共 80 放不下
	whole := item(domain.KindDocument, "whole", words("w", 40)).WithMention(true)
	pool := domain.Pool{
		Documents: []domain.Item{item(domain.KindDocument, "other", words("o", 40)), whole},
		Resources: []domain.Item{item(domain.KindResource, "r", words("r", 300))},
	}

	a := newTestAllocator(newKeywordOracle()).Allocate(context.Background(), AllocateInput{
		Query:        "q",
		Pool:         pool,
		ContextLimit: 400,
		Policy:       policy,
	})

	assert.Equal(t, 70, a.Budget.PerCategoryTokens[domain.CategoryDocuments])
	o := outcomeOf(t, a, "whole")
	assert.Equal(t, ActionAccepted, o.Action, "要求完整内容的引用条目不走召回")
	assert.Equal(t, 40, o.FinalTokens)
	assert.NotEqual(t, ActionAccepted, outcomeOf(t, a, "other").Action)
	assert.LessOrEqual(t, a.Budget.UsedTokens, a.Budget.TotalTokens)
}

func TestAllocate_SearchSources(t *testing.T) {
	// total = 70, 搜索预算 = 21
	web := []domain.Source{
		{Title: "first", PageContent: words("x", 15), Metadata: domain.SourceMetadata{EntityID: "w1", SourceType: domain.SourceTypeWebSearch}},
		{Title: "second", PageContent: words("y", 15), Metadata: domain.SourceMetadata{EntityID: "w2", SourceType: domain.SourceTypeWebSearch}},
	}
	library := []domain.Source{
		{Title: "lib", PageContent: words("z", 5), Metadata: domain.SourceMetadata{EntityID: "l1", SourceType: domain.SourceTypeLibrary}},
	}

	a := newTestAllocator(newKeywordOracle()).Allocate(context.Background(), AllocateInput{
		Query:         "q",
		WebSearch:     web,
		LibrarySearch: library,
		ContextLimit:  100,
		Policy:        domain.DefaultPolicy(),
	})

	require.Len(t, a.WebSearch, 2)
	assert.Equal(t, words("x", 15), a.WebSearch[0].PageContent)
	assert.Equal(t, 6, wordCounter{}.CountTokens(a.WebSearch[1].PageContent))
	assert.Empty(t, a.LibrarySearch)

	assert.Equal(t, ActionTruncated, outcomeOf(t, a, "w2").Action)
	lib := outcomeOf(t, a, "l1")
	assert.Equal(t, ActionDropped, lib.Action)
	assert.Equal(t, categoryLibrarySearch, lib.Category)
	assert.True(t, a.Exhausted)
	assert.Equal(t, 21, a.Budget.UsedTokens)
	assert.Equal(t, words("y", 15), web[1].PageContent, "输入来源不被修改")
}

func TestTrimToFit(t *testing.T) {
	newFramedState := func(docTokens, resTokens, perItem int) (*allocation, *candidate, *candidate) {
		doc := &candidate{item: item(domain.KindDocument, "d", words("d", docTokens)), tokens: docTokens, final: docTokens, cost: docTokens + perItem, outcome: 0, accepted: true}
		res := &candidate{item: item(domain.KindResource, "r", words("r", resTokens)), tokens: resTokens, final: resTokens, cost: resTokens + perItem, outcome: 1, accepted: true}
		st := &allocation{
			framing: flatFraming{counter: wordCounter{}, perItem: perItem},
			result: &Allocation{Outcomes: []ItemOutcome{
				{EntityID: "d", Action: ActionAccepted, FinalTokens: docTokens},
				{EntityID: "r", Action: ActionAccepted, FinalTokens: resTokens},
			}},
			accepted: map[domain.Category][]*candidate{
				domain.CategoryDocuments: {doc},
				domain.CategoryResources: {res},
			},
			used: doc.cost + res.cost,
		}
		return st, doc, res
	}
	newState := func(docTokens, resTokens int) (*allocation, *candidate, *candidate) {
		return newFramedState(docTokens, resTokens, 0)
	}
	a := newTestAllocator(newKeywordOracle())

	t.Run("截断最低优先级条目", func(t *testing.T) {
		st, doc, res := newState(40, 40)
		a.trimToFit(st, 70)

		assert.Equal(t, 70, st.used)
		assert.Equal(t, 40, doc.final)
		assert.Equal(t, 30, res.final)
		assert.Equal(t, ActionTruncated, st.result.Outcomes[1].Action)
		assert.Equal(t, ReasonTrimToFit, st.result.Outcomes[1].Reason)
	})

	t.Run("驱逐后继续截断更高优先级", func(t *testing.T) {
		st, doc, res := newState(45, 40)
		a.trimToFit(st, 40)

		assert.Equal(t, 40, st.used)
		assert.False(t, res.accepted)
		assert.Equal(t, ActionEvicted, st.result.Outcomes[1].Action)
		assert.Equal(t, 40, doc.final)
		assert.Equal(t, ActionTruncated, st.result.Outcomes[0].Action)
	})
	t.Run("截断保留包装开销", func(t *testing.T) {
		// 40+5 与 40+5，超出 20，资源正文截断到 20
		st, doc, res := newFramedState(40, 40, 5)
		a.trimToFit(st, 70)

		assert.Equal(t, 70, st.used)
		assert.Equal(t, 45, doc.cost)
		assert.Equal(t, 20, res.final)
		assert.Equal(t, 25, res.cost)
	})

	t.Run("驱逐释放包装开销", func(t *testing.T) {
		st, doc, res := newFramedState(40, 40, 5)
		a.trimToFit(st, 40)

		assert.Equal(t, 40, st.used)
		assert.False(t, res.accepted)
		assert.Zero(t, res.cost)
		assert.Equal(t, 35, doc.final)
		assert.Equal(t, 40, doc.cost)
	})
}

func TestAllocate_ChargesItemOverhead(t *testing.T) {
	// total = 70；每篇文档 10 + 3，五篇完整接受后剩余 5，第六篇正文截断到 2
	docs := make([]domain.Item, 0, 6)
	for i := 0; i < 6; i++ {
		docs = append(docs, item(domain.KindDocument, fmt.Sprintf("d%d", i), words(fmt.Sprintf("d%d-", i), 10)))
	}

	a := newFramedAllocator(newKeywordOracle(), 3).Allocate(context.Background(), AllocateInput{
		Query:        "q",
		Pool:         domain.Pool{Documents: docs},
		ContextLimit: 100,
		Policy:       domain.DefaultPolicy(),
	})

	assert.Equal(t, 70, a.Budget.TotalTokens)
	assert.Equal(t, 70, a.Budget.UsedTokens)
	require.Len(t, a.Pool.Documents, 6)

	truncated := a.Truncated()
	require.Len(t, truncated, 1)
	assert.Equal(t, 2, truncated[0].FinalTokens)
	assert.Empty(t, a.Dropped())
}

func TestAllocate_SerializedContextWithinBudget(t *testing.T) {
	counter := wordCounter{}
	oracle := newKeywordOracle()
	allocator := NewAllocator(counter, NewRanker(oracle, nil), NewRecaller(oracle, counter, domain.DefaultPolicy(), nil), nil)

	snippets := make([]domain.Item, 0, 300)
	for i := 0; i < 300; i++ {
		snippets = append(snippets, domain.Item{Kind: domain.KindSelectedContent, Content: fmt.Sprintf("snippet%d body", i)})
	}
	web := make([]domain.Source, 0, 40)
	for i := 0; i < 40; i++ {
		web = append(web, domain.Source{
			URL:         fmt.Sprintf("https://example.com/%d", i),
			Title:       fmt.Sprintf("page %d", i),
			PageContent: words(fmt.Sprintf("p%d-", i), 4),
			Metadata:    domain.SourceMetadata{SourceType: domain.SourceTypeWebSearch},
		})
	}

	policy := domain.DefaultPolicy()
	a := allocator.Allocate(context.Background(), AllocateInput{
		Query:        "q",
		Pool:         domain.Pool{ContentList: snippets},
		WebSearch:    web,
		ContextLimit: 1000,
		Policy:       policy,
	})
	text, sources := NewSerializer(policy.SourceBaseURL).Serialize(sectionsOf(a)...)

	assert.Equal(t, 700, a.Budget.TotalTokens)
	assert.LessOrEqual(t, a.Budget.UsedTokens, a.Budget.TotalTokens)
	assert.LessOrEqual(t, counter.CountTokens(text), a.Budget.UsedTokens, "计费不低于实际序列化大小")
	assert.Less(t, len(sources), 340, "包装开销使部分条目被丢弃")
	assert.NotEmpty(t, a.WebSearch)
	assert.True(t, a.Exhausted)
}

func TestAllocate_SerializedContextWithinBudget_Tiktoken(t *testing.T) {
	counter, err := token.GetAccountant()
	require.NoError(t, err)
	oracle := newKeywordOracle()
	allocator := NewAllocator(counter, NewRanker(oracle, nil), NewRecaller(oracle, counter, domain.DefaultPolicy(), nil), nil)

	docs := make([]domain.Item, 0, 300)
	for i := 0; i < 300; i++ {
		docs = append(docs, item(domain.KindDocument, fmt.Sprintf("doc-%d", i), fmt.Sprintf("release notes for service %d", i)))
	}

	policy := domain.DefaultPolicy()
	policy.SourceBaseURL = "https://kb.example.com"
	a := allocator.Allocate(context.Background(), AllocateInput{
		Query:        "release notes",
		Pool:         domain.Pool{Documents: docs},
		ContextLimit: 4000,
		Policy:       policy,
	})
	text, _ := NewSerializer(policy.SourceBaseURL).Serialize(sectionsOf(a)...)

	// 分区标签之间的分词边界允许少量固定误差，与条目数量无关
	const slack = 16
	assert.LessOrEqual(t, a.Budget.UsedTokens, a.Budget.TotalTokens)
	assert.LessOrEqual(t, counter.CountTokens(text), a.Budget.TotalTokens+slack)
	assert.True(t, a.Exhausted)
}
