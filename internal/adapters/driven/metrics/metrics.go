// Package metrics exposes kbase measurements as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure Prometheus implements the interface.
var _ driven.Metrics = (*Prometheus)(nil)

// oracleBuckets span ~50ms to ~200s.
var oracleBuckets = prometheus.ExponentialBuckets(0.05, 2, 13)

// Prometheus records kbase metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	appended         prometheus.Counter
	bufferSize       *prometheus.GaugeVec
	compactions      *prometheus.CounterVec
	compactionRemove prometheus.Counter
	compactionSecs   prometheus.Histogram
	compactionRatio  prometheus.Gauge
	tasks            *prometheus.CounterVec
	oracleCalls      *prometheus.CounterVec
	oracleLatency    *prometheus.HistogramVec
	oracleTokens     *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() (*Prometheus, error) {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbase_records_appended_total",
			Help: "Count of records appended to the active buffer",
		}),
		bufferSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kbase_buffer_records",
			Help: "Records currently held per buffer",
		}, []string{"buffer"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbase_compactions_total",
			Help: "Count of compaction runs by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		compactionRemove: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbase_compaction_records_removed_total",
			Help: "Records removed by successful compactions",
		}),
		compactionSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kbase_compaction_duration_seconds",
			Help:    "Duration of compaction runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		compactionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kbase_compaction_last_ratio",
			Help: "Compression ratio of the most recent successful compaction",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbase_tasks_total",
			Help: "Count of task state transitions by kind",
		}, []string{"kind", "state"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbase_oracle_calls_total",
			Help: "Count of oracle calls by operation and outcome",
		}, []string{"op", "outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kbase_oracle_call_duration_seconds",
			Help:    "Latency of oracle calls",
			Buckets: oracleBuckets,
		}, []string{"op"}),
		oracleTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbase_oracle_tokens_total",
			Help: "Tokens consumed by oracle calls by operation and direction",
		}, []string{"op", "direction"}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		m.appended, m.bufferSize, m.compactions, m.compactionRemove, m.compactionSecs,
		m.compactionRatio, m.tasks, m.oracleCalls, m.oracleLatency, m.oracleTokens,
	} {
		errs = append(errs, m.registry.Register(c))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAppend counts appended records.
func (m *Prometheus) RecordAppend(n int) {
	if n > 0 {
		m.appended.Add(float64(n))
	}
}

// SetBufferSizes reports the active and inactive buffer lengths.
func (m *Prometheus) SetBufferSizes(active, inactive int) {
	m.bufferSize.WithLabelValues("active").Set(float64(active))
	m.bufferSize.WithLabelValues("inactive").Set(float64(inactive))
}

// RecordCompaction reports a finished compaction run.
func (m *Prometheus) RecordCompaction(run domain.CompactionRun) {
	outcome := "success"
	if !run.Success {
		outcome = "failure"
	}
	m.compactions.WithLabelValues(run.Trigger, outcome).Inc()
	if !run.EndedAt.IsZero() {
		m.compactionSecs.Observe(run.EndedAt.Sub(run.StartedAt).Seconds())
	}
	if run.Success {
		if removed := run.OriginalCount - run.FinalCount; removed > 0 {
			m.compactionRemove.Add(float64(removed))
		}
		m.compactionRatio.Set(run.CompressionRatio())
	}
}

// RecordTask reports a task reaching state.
func (m *Prometheus) RecordTask(kind string, state domain.TaskState) {
	m.tasks.WithLabelValues(kind, string(state)).Inc()
}

// RecordOracleCall reports an oracle call's latency, tokens and outcome.
func (m *Prometheus) RecordOracleCall(op string, d time.Duration, usage driven.TokenUsage, err error) {
	if usage.PromptTokens > 0 {
		m.oracleTokens.WithLabelValues(op, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.oracleTokens.WithLabelValues(op, "completion").Add(float64(usage.CompletionTokens))
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.oracleCalls.WithLabelValues(op, outcome).Inc()
	m.oracleLatency.WithLabelValues(op).Observe(d.Seconds())
}
