// Prometheus指标收集器
// 使用独立注册表避免与默认注册表冲突，便于在测试中重复创建
//
// 记录接口全部为尽力而为：调用方不关心返回值，记录失败不影响请求路径

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nl2sql"

// Metrics 查询管道指标集合
type Metrics struct {
	registry *prometheus.Registry

	queryTotal    *prometheus.CounterVec   // 查询请求计数（按数据库、结果）
	queryDuration *prometheus.HistogramVec // 查询全链路耗时分布
	llmCallsTotal *prometheus.CounterVec   // LLM调用计数（按模型、操作、结果）
	llmLatency    *prometheus.HistogramVec // LLM调用延迟分布
	llmTokens     *prometheus.CounterVec   // Token消耗量
	sqlRejections *prometheus.CounterVec   // SQL被安全策略拒绝的原因分布
	dbConnections *prometheus.GaugeVec     // 每个连接池的活跃连接数
}

// New 创建指标收集器并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "查询请求总数",
			},
			[]string{"database", "status"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "查询全链路处理时间分布",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"database"},
		),
		llmCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_calls_total",
				Help:      "LLM调用总数",
			},
			[]string{"model", "operation", "status"},
		),
		llmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_latency_seconds",
				Help:      "LLM调用延迟分布",
				Buckets:   []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"model", "operation"},
		),
		llmTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Token使用量统计",
			},
			[]string{"model", "operation"},
		),
		sqlRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sql_rejections_total",
				Help:      "SQL安全校验拒绝计数",
			},
			[]string{"reason"},
		),
		dbConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_pool_connections",
				Help:      "连接池当前连接数",
			},
			[]string{"database"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.queryTotal,
		m.queryDuration,
		m.llmCallsTotal,
		m.llmLatency,
		m.llmTokens,
		m.sqlRejections,
		m.dbConnections,
	)
	return m
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordQuery 记录一次查询请求的结果与耗时
func (m *Metrics) RecordQuery(database string, success bool, duration time.Duration) {
	m.queryTotal.WithLabelValues(database, statusLabel(success)).Inc()
	m.queryDuration.WithLabelValues(database).Observe(duration.Seconds())
}

// RecordLLMCall 记录一次LLM调用
func (m *Metrics) RecordLLMCall(model, operation string, success bool, duration time.Duration, tokens int) {
	m.llmCallsTotal.WithLabelValues(model, operation, statusLabel(success)).Inc()
	m.llmLatency.WithLabelValues(model, operation).Observe(duration.Seconds())
	if tokens > 0 {
		m.llmTokens.WithLabelValues(model, operation).Add(float64(tokens))
	}
}

// RecordSQLRejection 记录SQL被拒绝的原因
func (m *Metrics) RecordSQLRejection(reason string) {
	m.sqlRejections.WithLabelValues(reason).Inc()
}

// SetPoolConnections 更新连接池连接数
func (m *Metrics) SetPoolConnections(database string, conns int32) {
	m.dbConnections.WithLabelValues(database).Set(float64(conns))
}

// Handler 返回/metrics端点的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 暴露注册表，供测试断言使用
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
