package engine

import (
	"testing"

	"github.com/antorsae/ecasound/internal/engine/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestEngineIterationRecordsMetrics verifies EngineIteration drives the
// optional profiling dump when one is attached via
// SetMetrics: after two iterations the registry holds collected metrics.
func TestEngineIterationRecordsMetrics(t *testing.T) {
	const B = 4
	in := newFakeReader("in", 1, [][]float64{{1}, {1}})
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(B, in, out)

	e := newTestEngine(cs)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewEngineMetrics(registry, metrics.NewThresholds(B, cs.SampleRate, 4))
	require.NoError(t, err)
	e.SetMetrics(m)

	e.EngineIteration()
	e.EngineIteration()

	counted := testutil.CollectAndCount(registry)
	require.Greater(t, counted, 0)
}
