// Package metrics wraps the engine's profiling dump as
// Prometheus collectors, for tooling that wants a time series instead of
// a one-shot value dump.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Thresholds holds the three profiling buckets :
// low = B/sr, mid = 2B/sr, high = prefill_blocks*B/sr.
type Thresholds struct {
	Low  time.Duration
	Mid  time.Duration
	High time.Duration
}

// NewThresholds derives the profiling buckets from the chainsetup's
// buffer size, sample rate, and prefill block count.
func NewThresholds(bufferSize, sampleRate, prefillBlocks int) Thresholds {
	perBlock := time.Duration(float64(bufferSize) / float64(sampleRate) * float64(time.Second))
	high := perBlock
	if prefillBlocks > 0 {
		high = time.Duration(prefillBlocks) * perBlock
	}
	return Thresholds{Low: perBlock, Mid: 2 * perBlock, High: high}
}

// buckets returns histogram bucket bounds, in seconds, ascending and
// deduplicated, built around the three named thresholds.
func (t Thresholds) buckets() []float64 {
	raw := []float64{
		t.Low.Seconds() / 2,
		t.Low.Seconds(),
		t.Mid.Seconds(),
		t.High.Seconds(),
		t.High.Seconds() * 2,
	}
	out := make([]float64, 0, len(raw))
	for _, b := range raw {
		if b <= 0 {
			continue
		}
		if len(out) > 0 && b <= out[len(out)-1] {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		out = prometheus.DefBuckets
	}
	return out
}

// EngineMetrics is the Prometheus-backed counterpart of the engine's
// observable outputs: iteration loop timing against the
// low/mid/high thresholds, and the run-level counters that mirror
// inputs-not-finished, outputs-finished-count, and the error kinds the
// engine raises.
type EngineMetrics struct {
	iterationsTotal        prometheus.Counter
	loopDuration           prometheus.Histogram
	inputsNotFinished      prometheus.Gauge
	outputsFinishedTotal   prometheus.Counter
	outputErrorsTotal      prometheus.Counter
	latencyWarningsTotal   prometheus.Counter
	priorityWarningsTotal  prometheus.Counter
	recordingOffsetSamples prometheus.Gauge
}

// NewEngineMetrics registers the engine's collectors against registry and
// returns the handle used to record observations. Mirrors the
// registry-scoped constructor pattern used for this project's other
// Prometheus-backed collectors, so tests can register against an
// isolated registry instead of the global default.
func NewEngineMetrics(registry *prometheus.Registry, thresholds Thresholds) (*EngineMetrics, error) {
	m := &EngineMetrics{
		iterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "iterations_total",
			Help:      "Total number of engine_iteration passes executed.",
		}),
		loopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "loop_duration_seconds",
			Help:      "Wall time of a single engine_iteration pass, bucketed against the low/mid/high profiling thresholds.",
			Buckets:   thresholds.buckets(),
		}),
		inputsNotFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "inputs_not_finished",
			Help:      "inputs_not_finished as of the last completed iteration.",
		}),
		outputsFinishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "outputs_finished_total",
			Help:      "Cumulative count of per-output finished transitions observed by engine_iteration.",
		}),
		outputErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "output_errors_total",
			Help:      "OutputError occurrences.",
		}),
		latencyWarningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "latency_warnings_total",
			Help:      "LatencyWarning occurrences.",
		}),
		priorityWarningsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "priority_warnings_total",
			Help:      "PriorityWarning occurrences.",
		}),
		recordingOffsetSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecasound",
			Subsystem: "engine",
			Name:      "recording_offset_samples",
			Help:      "Current recording_offset in samples.",
		}),
	}

	collectors := []prometheus.Collector{
		m.iterationsTotal,
		m.loopDuration,
		m.inputsNotFinished,
		m.outputsFinishedTotal,
		m.outputErrorsTotal,
		m.latencyWarningsTotal,
		m.priorityWarningsTotal,
		m.recordingOffsetSamples,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordIteration records the duration of one engine_iteration pass.
func (m *EngineMetrics) RecordIteration(d time.Duration) {
	m.iterationsTotal.Inc()
	m.loopDuration.Observe(d.Seconds())
}

// SetInputsNotFinished reports the current inputs_not_finished count.
func (m *EngineMetrics) SetInputsNotFinished(n int) {
	m.inputsNotFinished.Set(float64(n))
}

// RecordOutputFinished increments outputs_finished_total by one.
func (m *EngineMetrics) RecordOutputFinished() {
	m.outputsFinishedTotal.Inc()
}

// RecordOutputError records an OutputError occurrence.
func (m *EngineMetrics) RecordOutputError() {
	m.outputErrorsTotal.Inc()
}

// RecordLatencyWarning records a LatencyWarning occurrence.
func (m *EngineMetrics) RecordLatencyWarning() {
	m.latencyWarningsTotal.Inc()
}

// RecordPriorityWarning records a PriorityWarning occurrence.
func (m *EngineMetrics) RecordPriorityWarning() {
	m.priorityWarningsTotal.Inc()
}

// SetRecordingOffsetSamples reports the current recording_offset.
func (m *EngineMetrics) SetRecordingOffsetSamples(n int) {
	m.recordingOffsetSamples.Set(float64(n))
}
