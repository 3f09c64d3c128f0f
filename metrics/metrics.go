// Package metrics counts what a worker did and writes it to a node-exporter
// textfile when the worker exits.
package metrics

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/pipeline"
)

const namespace = "ontogen"

// Unit results
const (
	ResultRows    = "rows"
	ResultNoMatch = "no_match"
	ResultTripped = "tripped"
	ResultFailed  = "failed"
	ResultEmpty   = "empty"
	ResultLost    = "lost" // chunk timed out or the unit panicked
)

// Metrics holds one worker's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	attemptTime   *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	rows          prometheus.Counter
	units         *prometheus.CounterVec
	chunks        prometheus.Counter
	chunkTimeouts prometheus.Counter
	limiterWait   prometheus.Histogram
}

// New registers every collector; constLabels (e.g. segment) go on each series
func New(constLabels prometheus.Labels) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "request_attempts_total",
			Help: "Generative service attempts by step and outcome.", ConstLabels: constLabels,
		}, []string{"step", "outcome"}),
		attemptTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "request_attempt_seconds",
			Help:    "Duration of generative service attempts.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60}, ConstLabels: constLabels,
		}, []string{"step"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tokens_total",
			Help: "Tokens reported by the generative service.", ConstLabels: constLabels,
		}, []string{"step", "kind"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_appended_total",
			Help: "Dataset rows appended to the sink.", ConstLabels: constLabels,
		}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "units_total",
			Help: "Processed work units by result.", ConstLabels: constLabels,
		}, []string{"result"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_total",
			Help: "Chunks run by the batch scheduler.", ConstLabels: constLabels,
		}),
		chunkTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunk_timeouts_total",
			Help: "Chunks abandoned at the chunk timeout.", ConstLabels: constLabels,
		}),
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "limiter_wait_seconds",
			Help:    "Time spent blocked in the rate limiter.",
			Buckets: []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60}, ConstLabels: constLabels,
		}),
	}
	m.registry.MustRegister(m.attempts, m.attemptTime, m.tokens, m.rows, m.units,
		m.chunks, m.chunkTimeouts, m.limiterWait)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordAttempt implements structured.Recorder
func (m *Metrics) RecordAttempt(_ context.Context, a structured.Attempt) {
	m.attempts.WithLabelValues(a.Step, a.Outcome).Inc()
	m.attemptTime.WithLabelValues(a.Step).Observe(a.Duration().Seconds())
	if a.Usage != nil {
		m.tokens.WithLabelValues(a.Step, "prompt").Add(float64(a.Usage.PromptTokens))
		m.tokens.WithLabelValues(a.Step, "completion").Add(float64(a.Usage.CompletionTokens))
	}
}

// ChunkDone implements batch.ChunkObserver
func (m *Metrics) ChunkDone(outcomes []*pipeline.Outcome, timedOut bool) {
	m.chunks.Inc()
	if timedOut {
		m.chunkTimeouts.Inc()
	}
	for _, o := range outcomes {
		result := Result(o)
		m.units.WithLabelValues(result).Inc()
		if o != nil {
			m.rows.Add(float64(o.Rows))
		}
	}
}

// ObserveWait feeds budget.WithWaitObserver
func (m *Metrics) ObserveWait(d time.Duration) {
	m.limiterWait.Observe(d.Seconds())
}

// Result classifies one unit outcome
func Result(o *pipeline.Outcome) string {
	switch {
	case o == nil:
		return ResultLost
	case o.Rows > 0:
		return ResultRows
	case o.NoMatch:
		return ResultNoMatch
	case o.Tripped:
		return ResultTripped
	case o.Err != nil || o.Failures > 0:
		return ResultFailed
	default:
		return ResultEmpty
	}
}

// WriteTextfile writes the registry in text exposition format. An empty path
// is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), am.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create metrics directory for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "failed to write metrics textfile %s", path)
	}
	return nil
}
