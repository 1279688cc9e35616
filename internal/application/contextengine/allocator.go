package contextengine

import (
	"context"
	"log/slog"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/sourcegraph/conc/pool"
)

// Stage 上下文准备状态机的阶段
type Stage string

const (
	StageStart           Stage = "START"
	StageQueryPrep       Stage = "QUERY_PREP"
	StageRewriteDecision Stage = "REWRITE_DECISION"
	StageRewrite         Stage = "REWRITE"
	StageSkip            Stage = "SKIP"
	StageContextCheck    Stage = "CONTEXT_CHECK"
	StagePrepare         Stage = "PREPARE"
	StageSkipContext     Stage = "SKIP_CONTEXT"
	StageAllocate        Stage = "ALLOCATE"
	StageRankPerCategory Stage = "RANK_PER_CATEGORY"
	StageRecallOversized Stage = "RECALL_OVERSIZED"
	StageTrimToFit       Stage = "TRIM_TO_FIT"
	StageDone            Stage = "DONE"
)

// Action 条目的分配动作
type Action string

const (
	ActionAccepted  Action = "accepted"
	ActionTruncated Action = "truncated"
	ActionRecalled  Action = "recalled"
	ActionDropped   Action = "dropped"
	ActionEvicted   Action = "evicted"
)

// Reason 条目被缩减或丢弃的原因
type Reason string

const (
	// ReasonBudgetExhausted 预算耗尽，属于正常终态
	ReasonBudgetExhausted Reason = "budget_exhausted"
	// ReasonEmptyAfterTrim 截断或召回后没有剩余内容
	ReasonEmptyAfterTrim Reason = "empty_after_trim"
	// ReasonTrimToFit 最终收缩阶段移除
	ReasonTrimToFit Reason = "trim_to_fit"
)

const (
	categoryWebSearch     = "web_search"
	categoryLibrarySearch = "library_search"
)

// ItemOutcome 单个条目的分配结果
type ItemOutcome struct {
	Kind           domain.ItemKind `json:"type"`
	EntityID       string          `json:"entityId,omitempty"`
	Title          string          `json:"title,omitempty"`
	Category       string          `json:"category"`
	Action         Action          `json:"action"`
	Reason         Reason          `json:"reason,omitempty"`
	OriginalTokens int             `json:"originalTokens"`
	FinalTokens    int             `json:"finalTokens"`
}

// AllocateInput 分配输入
type AllocateInput struct {
	// Query 用于排序与召回的查询（通常为改写后的查询）
	Query         string
	Pool          domain.Pool
	WebSearch     []domain.Source
	LibrarySearch []domain.Source
	ContextLimit  int
	QueryTokens   int
	HistoryTokens int
	Policy        domain.Policy
}

// Allocation 分配结果
// Budget.UsedTokens 按序列化后的大小计算，包括条目包装与分区标签，不超过 Budget.TotalTokens
type Allocation struct {
	Pool          domain.Pool     `json:"-"`
	WebSearch     []domain.Source `json:"-"`
	LibrarySearch []domain.Source `json:"-"`
	Budget        domain.Budget   `json:"budget"`
	Outcomes      []ItemOutcome   `json:"outcomes"`
	Trace         []Stage         `json:"trace"`
	// Exhausted 至少有一个条目因预算耗尽被丢弃
	Exhausted bool `json:"exhausted"`
	// Skipped 没有剩余预算或没有候选内容，跳过上下文准备
	Skipped bool `json:"skipped"`
}

// Dropped 返回被丢弃或驱逐的条目
func (a *Allocation) Dropped() []ItemOutcome {
	return a.filter(func(o ItemOutcome) bool {
		return o.Action == ActionDropped || o.Action == ActionEvicted
	})
}

// Truncated 返回被截断或召回的条目
func (a *Allocation) Truncated() []ItemOutcome {
	return a.filter(func(o ItemOutcome) bool {
		return o.Action == ActionTruncated || o.Action == ActionRecalled
	})
}

func (a *Allocation) filter(keep func(ItemOutcome) bool) []ItemOutcome {
	var out []ItemOutcome
	for _, o := range a.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// framing 条目序列化后的 Token 开销
type framing interface {
	// blockTokens 条目连同 ContextItem 包装与分隔的 Token 数
	blockTokens(item domain.Item) int
	// frameTokens 分区标签的 Token 数
	frameTokens() int
}

// Allocator 预算分配器
type Allocator struct {
	counter    domain.TokenCounter
	ranker     *Ranker
	recaller   *Recaller
	metrics    *Metrics
	logger     *slog.Logger
	framingFor func(policy domain.Policy, items int) framing
}

// NewAllocator 创建分配器
func NewAllocator(counter domain.TokenCounter, ranker *Ranker, recaller *Recaller, metrics *Metrics) *Allocator {
	a := &Allocator{
		counter:  counter,
		ranker:   ranker,
		recaller: recaller,
		metrics:  metrics,
		logger:   log.NewModuleLogger("contextengine", "allocator"),
	}
	a.framingFor = a.serializedFraming
	return a
}

// serializedFraming 按策略中的链接前缀构造序列化开销估算
func (a *Allocator) serializedFraming(policy domain.Policy, items int) framing {
	return serializedFraming{
		serializer: NewSerializer(policy.SourceBaseURL),
		counter:    a.counter,
		index:      max(items, 1),
	}
}

// candidate 参与分配的条目
type candidate struct {
	item     domain.Item
	tokens   int // 原始大小
	final    int // 当前大小
	cost     int // 当前内容序列化后的大小
	outcome  int // 在 Outcomes 中的下标
	accepted bool
}

// allocation 单次分配的可变状态，只在一次 Allocate 调用内使用
type allocation struct {
	in       AllocateInput
	result   *Allocation
	eligible int
	used     int
	accepted map[domain.Category][]*candidate
	web      []domain.Source
	library  []domain.Source
	recaller *Recaller
	framing  framing
}

// Allocate 执行 CONTEXT_CHECK 到 DONE 的状态转移
// 外部依赖失败不会中断分配；策略非法属于调用方错误，由构造阶段保证
func (a *Allocator) Allocate(ctx context.Context, in AllocateInput) *Allocation {
	logger := log.FromContext(ctx, a.logger)
	st := &allocation{
		in:       in,
		result:   &Allocation{Budget: domain.Budget{PerCategoryTokens: map[domain.Category]int{}}},
		accepted: make(map[domain.Category][]*candidate, len(domain.Categories)),
		recaller: a.recaller.WithPolicy(in.Policy),
		framing:  a.framingFor(in.Policy, in.Pool.Len()+len(in.WebSearch)+len(in.LibrarySearch)),
	}
	st.enter(StageContextCheck)

	remaining := in.ContextLimit - in.QueryTokens - in.HistoryTokens
	hasCandidates := !in.Pool.IsEmpty() || len(in.WebSearch) > 0 || len(in.LibrarySearch) > 0
	if remaining <= 0 || !hasCandidates {
		logger.Debug("Skipping context preparation",
			"remaining_tokens", remaining,
			"has_candidates", hasCandidates,
		)
		st.enter(StageSkipContext)
		st.enter(StageDone)
		st.result.Skipped = true
		return st.result
	}
	st.enter(StagePrepare)

	total := int(float64(in.ContextLimit) * in.Policy.MaxContextRatio)
	if remaining < total {
		total = remaining
	}
	st.result.Budget.TotalTokens = total

	st.enter(StageAllocate)
	st.used = st.framing.frameTokens()
	searchBudget := min(int(float64(total)*in.Policy.MaxSearchContextRatio), total-st.used)
	st.web, searchBudget = a.allocateSources(st, domain.KindWebSearch, in.WebSearch, searchBudget)
	st.library, _ = a.allocateSources(st, domain.KindLibrarySearch, in.LibrarySearch, searchBudget)
	st.eligible = total - st.used

	candidates, sizes := a.collect(st.framing, in.Pool)

	st.enter(StageRankPerCategory)
	a.rankCategories(ctx, in.Query, candidates, sizes, st.eligible, in.Policy)

	st.enter(StageRecallOversized)
	usedByCategory := make(map[domain.Category]int, len(domain.Categories))
	for i, c := range domain.Categories {
		allot := a.allotment(st, i, sizes, usedByCategory)
		st.result.Budget.PerCategoryTokens[c] = allot
		usedByCategory[c] = a.fill(ctx, st, c, candidates[c], sizes[c], allot)
		st.used += usedByCategory[c]
	}

	st.enter(StageTrimToFit)
	a.trimToFit(st, total)

	st.result.Pool = st.finalPool()
	st.result.WebSearch = st.web
	st.result.LibrarySearch = st.library
	if st.result.Pool.IsEmpty() && len(st.web) == 0 && len(st.library) == 0 {
		st.used = 0
	}
	st.result.Budget.UsedTokens = st.used
	st.enter(StageDone)

	for _, o := range st.result.Outcomes {
		a.metrics.ItemOutcome(o.Category, o.Action)
	}
	logger.Debug("Context allocated",
		"total_tokens", total,
		"used_tokens", st.used,
		"items", st.result.Pool.Len(),
		"dropped", len(st.result.Dropped()),
		"truncated", len(st.result.Truncated()),
	)
	return st.result
}

func (st *allocation) enter(s Stage) {
	st.result.Trace = append(st.result.Trace, s)
}

func (st *allocation) record(o ItemOutcome) int {
	if o.Action == ActionDropped && o.Reason == ReasonBudgetExhausted {
		st.result.Exhausted = true
	}
	st.result.Outcomes = append(st.result.Outcomes, o)
	return len(st.result.Outcomes) - 1
}

func (st *allocation) finalPool() domain.Pool {
	var out domain.Pool
	for _, c := range domain.Categories {
		var items []domain.Item
		for _, cand := range st.accepted[c] {
			if cand.accepted {
				items = append(items, cand.item)
			}
		}
		out = out.WithCategory(c, items)
	}
	return out
}

// allocateSources 在搜索预算内依次接受搜索来源，返回接受的来源与剩余预算
func (a *Allocator) allocateSources(st *allocation, kind domain.ItemKind, sources []domain.Source, budget int) ([]domain.Source, int) {
	category := categoryWebSearch
	if kind == domain.KindLibrarySearch {
		category = categoryLibrarySearch
	}

	var kept []domain.Source
	for _, s := range sources {
		tokens := a.counter.CountTokens(s.PageContent)
		cost := st.framing.blockTokens(domain.SearchResultItem(kind, s))
		o := ItemOutcome{
			Kind:           kind,
			EntityID:       s.Metadata.EntityID,
			Title:          s.Title,
			Category:       category,
			OriginalTokens: tokens,
		}

		switch {
		case budget <= cost-tokens:
			o.Action, o.Reason = ActionDropped, ReasonBudgetExhausted
		case cost <= budget:
			o.Action, o.FinalTokens = ActionAccepted, tokens
		default:
			trimmed := a.fitBlock(st.framing, domain.SearchResultItem(kind, s), budget-(cost-tokens), budget)
			if trimmed.Content == "" {
				o.Action, o.Reason = ActionDropped, ReasonEmptyAfterTrim
				break
			}
			s.PageContent = trimmed.Content
			cost = st.framing.blockTokens(trimmed)
			o.Action, o.Reason, o.FinalTokens = ActionTruncated, ReasonBudgetExhausted, a.counter.CountTokens(trimmed.Content)
		}

		st.record(o)
		if o.FinalTokens > 0 {
			kept = append(kept, s)
			budget -= cost
			st.used += cost
		}
	}
	return kept, budget
}

// fitBlock 将条目正文截断到 room 个 Token，并保证序列化后不超过 limit
// 包装与正文的分词边界可能合并，超出时按差值再截断一次，仍超出则返回空正文
func (a *Allocator) fitBlock(fr framing, item domain.Item, room, limit int) domain.Item {
	if room <= 0 {
		return item.WithContent("")
	}
	item = item.WithContent(token.Truncate(a.counter, item.Content, room))
	if item.Content == "" {
		return item
	}
	over := fr.blockTokens(item) - limit
	if over <= 0 {
		return item
	}
	item = item.WithContent(token.Truncate(a.counter, item.Content, a.counter.CountTokens(item.Content)-over))
	if item.Content != "" && fr.blockTokens(item) > limit {
		return item.WithContent("")
	}
	return item
}

// collect 统计每个类别的条目与序列化后的自然大小
func (a *Allocator) collect(fr framing, p domain.Pool) (map[domain.Category][]*candidate, map[domain.Category]int) {
	candidates := make(map[domain.Category][]*candidate, len(domain.Categories))
	sizes := make(map[domain.Category]int, len(domain.Categories))
	for _, c := range domain.Categories {
		for _, item := range p.Category(c) {
			tokens := a.counter.CountTokens(item.Content)
			cost := fr.blockTokens(item)
			candidates[c] = append(candidates[c], &candidate{item: item, tokens: tokens, final: tokens, cost: cost})
			sizes[c] += cost
		}
	}
	return candidates, sizes
}

// rankCategories 并发排序超过比例下限的类别，被引用条目排在最前
func (a *Allocator) rankCategories(ctx context.Context, query string, candidates map[domain.Category][]*candidate, sizes map[domain.Category]int, eligible int, policy domain.Policy) {
	ordered := make([][]*candidate, len(domain.Categories))
	p := pool.New().WithMaxGoroutines(len(domain.Categories))
	for i, c := range domain.Categories {
		list := candidates[c]
		ordered[i] = list
		if sizes[c] <= int(float64(eligible)*policy.CategoryRatio(c)) || len(list) < 2 {
			continue
		}

		p.Go(func() {
			items := make([]domain.Item, len(list))
			for j, cand := range list {
				items[j] = cand.item
			}
			ranked := make([]*candidate, len(list))
			for j, idx := range a.ranker.Order(ctx, query, items) {
				ranked[j] = list[idx]
			}
			ordered[i] = ranked
		})
	}
	p.Wait()

	for i, c := range domain.Categories {
		candidates[c] = mentionedFirst(ordered[i])
	}
}

// mentionedFirst 稳定地把被引用条目移到最前
func mentionedFirst(list []*candidate) []*candidate {
	out := make([]*candidate, 0, len(list))
	for _, cand := range list {
		if cand.item.Mentioned {
			out = append(out, cand)
		}
	}
	for _, cand := range list {
		if !cand.item.Mentioned {
			out = append(out, cand)
		}
	}
	return out
}

// allotment 计算第 i 个类别的预算
// 比例是下限：后续类别的自然大小不足时，剩余部分归当前类别；最后一个类别获得全部剩余
func (a *Allocator) allotment(st *allocation, i int, sizes, used map[domain.Category]int) int {
	available := st.eligible
	for _, prev := range domain.Categories[:i] {
		available -= used[prev]
	}
	if available <= 0 {
		return 0
	}
	if i == len(domain.Categories)-1 {
		return available
	}

	rest := 0
	for _, next := range domain.Categories[i+1:] {
		rest += sizes[next]
	}
	allot := int(float64(st.eligible) * st.in.Policy.CategoryRatio(domain.Categories[i]))
	if surplus := available - rest; surplus > allot {
		allot = surplus
	}
	if allot > available {
		allot = available
	}
	return allot
}

// fill 在 allot 内贪心接受类别中的条目，返回使用的 Token 数
// 每个条目按序列化后的大小计费，截断与召回只作用于正文
func (a *Allocator) fill(ctx context.Context, st *allocation, c domain.Category, list []*candidate, size, allot int) int {
	threshold := st.in.Policy.RecallThresholdTokens
	fits := size <= allot
	remaining := allot

	for _, cand := range list {
		st.accepted[c] = append(st.accepted[c], cand)
		o := ItemOutcome{
			Kind:           cand.item.Kind,
			EntityID:       cand.item.Metadata.EntityID,
			Title:          cand.item.Metadata.Title,
			Category:       c.String(),
			OriginalTokens: cand.tokens,
		}

		wantsWhole := cand.item.Mentioned && cand.item.UseWholeContent
		room := remaining - (cand.cost - cand.tokens)
		switch {
		case fits || cand.cost <= remaining && (cand.tokens <= threshold || wantsWhole):
			o.Action = ActionAccepted
			cand.final = cand.tokens
		case room <= 0:
			o.Action, o.Reason = ActionDropped, ReasonBudgetExhausted
			cand.final = 0
		case cand.tokens > threshold && !wantsWhole:
			budget := min(room, threshold)
			// 没有能整体放下的片段时按截断处理
			if content := st.recaller.Recall(ctx, st.in.Query, cand.item.Content, budget); content != "" {
				o.Action = ActionRecalled
				cand.item = a.fitBlock(st.framing, cand.item.WithContent(content), room, remaining)
			} else {
				o.Action, o.Reason = ActionTruncated, ReasonBudgetExhausted
				cand.item = a.fitBlock(st.framing, cand.item, budget, remaining)
			}
			cand.final = a.counter.CountTokens(cand.item.Content)
		default:
			o.Action, o.Reason = ActionTruncated, ReasonBudgetExhausted
			cand.item = a.fitBlock(st.framing, cand.item, room, remaining)
			cand.final = a.counter.CountTokens(cand.item.Content)
		}
		if o.Action == ActionRecalled || o.Action == ActionTruncated {
			cand.cost = st.framing.blockTokens(cand.item)
		}

		if o.Action != ActionDropped && (cand.final == 0 || cand.cost > remaining && !fits) {
			o.Action, o.Reason, cand.final = ActionDropped, ReasonEmptyAfterTrim, 0
		}
		cand.accepted = cand.final > 0
		o.FinalTokens = cand.final
		cand.outcome = st.record(o)
		if cand.accepted {
			remaining -= cand.cost
		}
	}
	return allot - remaining
}

// trimToFit 超出总预算时从最低优先级类别开始逆序驱逐或截断
func (a *Allocator) trimToFit(st *allocation, total int) {
	for i := len(domain.Categories) - 1; i >= 0 && st.used > total; i-- {
		list := st.accepted[domain.Categories[i]]
		for j := len(list) - 1; j >= 0 && st.used > total; j-- {
			cand := list[j]
			if !cand.accepted {
				continue
			}
			over := st.used - total
			o := &st.result.Outcomes[cand.outcome]

			if keep := cand.final - over; keep > 0 {
				trimmed := cand.item.WithContent(token.Truncate(a.counter, cand.item.Content, keep))
				if cost := st.framing.blockTokens(trimmed); trimmed.Content != "" && st.used-cand.cost+cost <= total {
					st.used += cost - cand.cost
					cand.item = trimmed
					cand.cost = cost
					cand.final = a.counter.CountTokens(trimmed.Content)
					o.Action, o.Reason, o.FinalTokens = ActionTruncated, ReasonTrimToFit, cand.final
					continue
				}
			}

			st.used -= cand.cost
			cand.accepted = false
			cand.final = 0
			cand.cost = 0
			o.Action, o.Reason, o.FinalTokens = ActionEvicted, ReasonTrimToFit, 0
		}
	}
}
