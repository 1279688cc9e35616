package contextengine

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRanker_OrdersByScore(t *testing.T) {
	oracle := new(MockOracle)
	items := []domain.Item{
		item(domain.KindDocument, "a", "alpha"),
		item(domain.KindDocument, "b", "beta"),
		item(domain.KindDocument, "c", "gamma"),
	}

	var batchID string
	oracle.On("Index", mock.Anything, mock.MatchedBy(func(id string) bool {
		batchID = id
		return strings.HasPrefix(id, "rank-")
	}), mock.Anything).Return(nil)
	oracle.On("Search", mock.Anything, mock.MatchedBy(func(q domain.SearchQuery) bool {
		return q.BatchID == batchID && q.K == 3 && q.Text == "query"
	})).Return([]domain.ScoredDocument{
		{ID: "2", Score: 0.9},
		{ID: "0", Score: 0.5},
		{ID: "1", Score: 0.5},
	}, nil)
	oracle.On("Drop", mock.Anything, mock.Anything).Return(nil)

	ranked := NewRanker(oracle, nil).Rank(context.Background(), "query", items)

	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].Metadata.EntityID)
	assert.Equal(t, "a", ranked[1].Metadata.EntityID, "同分按原顺序")
	assert.Equal(t, "b", ranked[2].Metadata.EntityID)
	oracle.AssertCalled(t, "Drop", mock.Anything, batchID)
}

func TestRanker_AppendsMissingItems(t *testing.T) {
	oracle := new(MockOracle)
	items := []domain.Item{
		item(domain.KindResource, "a", "alpha"),
		item(domain.KindResource, "b", "beta"),
		item(domain.KindResource, "c", "gamma"),
		item(domain.KindResource, "d", "delta"),
	}
	oracle.On("Index", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	oracle.On("Search", mock.Anything, mock.Anything).Return([]domain.ScoredDocument{
		{ID: "3", Score: 0.8},
		{ID: "3", Score: 0.7},
		{ID: "99", Score: 0.6},
		{ID: "bogus", Score: 0.5},
	}, nil)
	oracle.On("Drop", mock.Anything, mock.Anything).Return(nil)

	ranked := NewRanker(oracle, nil).Rank(context.Background(), "q", items)

	ids := make([]string, len(ranked))
	for i, it := range ranked {
		ids[i] = it.Metadata.EntityID
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids, "缺失条目按原顺序追加，重复和未知 ID 被忽略")
}

func TestRanker_OracleFailureKeepsOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(o *MockOracle)
	}{
		{
			name: "索引失败",
			setup: func(o *MockOracle) {
				o.On("Index", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
			},
		},
		{
			name: "检索失败",
			setup: func(o *MockOracle) {
				o.On("Index", mock.Anything, mock.Anything, mock.Anything).Return(nil)
				o.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := new(MockOracle)
			tt.setup(oracle)
			oracle.On("Drop", mock.Anything, mock.Anything).Return(errors.New("gone"))

			items := []domain.Item{
				item(domain.KindDocument, "a", "alpha"),
				item(domain.KindDocument, "b", "beta"),
			}
			ranked := NewRanker(oracle, NewMetrics(nil)).Rank(context.Background(), "q", items)
			assert.Equal(t, items, ranked)
		})
	}
}

func TestRanker_ShortInputSkipsOracle(t *testing.T) {
	oracle := new(MockOracle)
	r := NewRanker(oracle, nil)

	assert.Empty(t, r.Rank(context.Background(), "q", nil))
	single := []domain.Item{item(domain.KindDocument, "a", "alpha")}
	assert.Equal(t, single, r.Rank(context.Background(), "q", single))
	oracle.AssertNotCalled(t, "Index", mock.Anything, mock.Anything, mock.Anything)
}

func TestRanker_InputNotMutated(t *testing.T) {
	oracle := newKeywordOracle()
	items := []domain.Item{
		item(domain.KindDocument, "a", "nothing here"),
		item(domain.KindDocument, "b", "docker docker"),
	}
	original := append([]domain.Item(nil), items...)

	ranked := NewRanker(oracle, nil).Rank(context.Background(), "docker", items)

	assert.Equal(t, "b", ranked[0].Metadata.EntityID)
	assert.Equal(t, original, items)
	assert.Zero(t, oracle.live(), "批次用后即删除")
}
