package contextengine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/stretchr/testify/mock"
)

// wordCounter 以空白分词计数，便于精确推算预算
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// flatFraming 每个条目固定包装开销、没有分区标签的序列化估算
type flatFraming struct {
	counter domain.TokenCounter
	perItem int
}

func (f flatFraming) blockTokens(item domain.Item) int {
	return f.counter.CountTokens(item.Content) + f.perItem
}

func (flatFraming) frameTokens() int { return 0 }

// words 生成 n 个形如 prefix0 prefix1 ... 的单词
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

// MockOracle 模拟 SimilarityOracle
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Index(ctx context.Context, batchID string, docs []domain.Document) error {
	args := m.Called(ctx, batchID, docs)
	return args.Error(0)
}

func (m *MockOracle) Search(ctx context.Context, query domain.SearchQuery) ([]domain.ScoredDocument, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredDocument), args.Error(1)
}

func (m *MockOracle) Drop(ctx context.Context, batchID string) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

// keywordOracle 按查询词命中次数打分的确定性检索
type keywordOracle struct {
	mu      sync.Mutex
	batches map[string][]domain.Document
	indexed []string
	dropped []string
}

func newKeywordOracle() *keywordOracle {
	return &keywordOracle{batches: make(map[string][]domain.Document)}
}

func (o *keywordOracle) Index(_ context.Context, batchID string, docs []domain.Document) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches[batchID] = append(o.batches[batchID], docs...)
	o.indexed = append(o.indexed, batchID)
	return nil
}

func (o *keywordOracle) Search(_ context.Context, q domain.SearchQuery) ([]domain.ScoredDocument, error) {
	o.mu.Lock()
	docs := o.batches[q.BatchID]
	o.mu.Unlock()

	terms := strings.Fields(strings.ToLower(q.Text))
	hits := make([]domain.ScoredDocument, 0, len(docs))
	for _, d := range docs {
		score := 0
		for _, w := range strings.Fields(strings.ToLower(d.Text)) {
			for _, t := range terms {
				if w == t {
					score++
				}
			}
		}
		hits = append(hits, domain.ScoredDocument{ID: d.ID, Score: float64(score)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if q.K > 0 && len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func (o *keywordOracle) Drop(_ context.Context, batchID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.batches, batchID)
	o.dropped = append(o.dropped, batchID)
	return nil
}

func (o *keywordOracle) live() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}

// MockLanguageModel 模拟 LanguageModel
type MockLanguageModel struct {
	mock.Mock
}

func (m *MockLanguageModel) Invoke(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func (m *MockLanguageModel) InvokeStructured(ctx context.Context, messages []domain.ChatMessage, schema domain.StructuredSchema) (*domain.StructuredOutput, error) {
	args := m.Called(ctx, messages, schema)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StructuredOutput), args.Error(1)
}

// staticRegistry 固定的模型注册表
type staticRegistry map[string]domain.ModelInfo

func (r staticRegistry) Lookup(modelID string) (domain.ModelInfo, error) {
	info, ok := r[modelID]
	if !ok {
		return domain.ModelInfo{}, &domain.UnknownModelError{ModelID: modelID}
	}
	return info, nil
}

func item(kind domain.ItemKind, id, content string) domain.Item {
	return domain.Item{
		Kind:     kind,
		Content:  content,
		Metadata: domain.Metadata{EntityID: id, Title: "title " + id},
	}
}
