package contextengine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 引擎指标
// nil 接收者上的方法均为空操作，便于测试中省略
type Metrics struct {
	prepares       *prometheus.CounterVec
	itemOutcomes   *prometheus.CounterVec
	rewrites       *prometheus.CounterVec
	oracleFailures *prometheus.CounterVec
	usedTokens     prometheus.Histogram
}

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		prepares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextengine",
			Name:      "prepare_total",
			Help:      "Context preparations by outcome.",
		}, []string{"outcome"}),
		itemOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextengine",
			Name:      "item_outcomes_total",
			Help:      "Context items by allocation action.",
		}, []string{"category", "action"}),
		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextengine",
			Name:      "rewrite_total",
			Help:      "Query rewrite attempts by outcome.",
		}, []string{"outcome"}),
		oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextengine",
			Name:      "oracle_failures_total",
			Help:      "Similarity oracle failures by operation.",
		}, []string{"operation"}),
		usedTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contextengine",
			Name:      "context_used_tokens",
			Help:      "Tokens used by the prepared context block.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.prepares, m.itemOutcomes, m.rewrites, m.oracleFailures, m.usedTokens)
	}
	return m
}

// Prepared 记录一次准备结果
func (m *Metrics) Prepared(outcome string, usedTokens int) {
	if m == nil {
		return
	}
	m.prepares.WithLabelValues(outcome).Inc()
	if usedTokens > 0 {
		m.usedTokens.Observe(float64(usedTokens))
	}
}

// ItemOutcome 记录条目的分配动作
func (m *Metrics) ItemOutcome(category string, action Action) {
	if m == nil {
		return
	}
	m.itemOutcomes.WithLabelValues(category, string(action)).Inc()
}

// Rewrite 记录改写结果
func (m *Metrics) Rewrite(outcome string) {
	if m == nil {
		return
	}
	m.rewrites.WithLabelValues(outcome).Inc()
}

// OracleFailure 记录检索服务失败
func (m *Metrics) OracleFailure(operation string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(operation).Inc()
}
