package engine

import (
	"testing"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/stretchr/testify/assert"
)

// TestUpdateLatencyComputesRecordingOffset covers in_latency and
// out_latency combining via max into recording_offset when multitrack
// mode is enabled.
func TestUpdateLatencyComputesRecordingOffset(t *testing.T) {
	const B = 4
	in := newFakeReader("in", 1, make([][]float64, 10))
	in.latency = 12
	out := newFakeWriter("out", 1)
	out.latency = 20

	cs := newTestChainsetup(B, in, out)
	cs.Multitrack = true
	cs.Prefill = audioio.PrefillNone // avoid the prefill_blocks term

	e := newTestEngine(cs)
	e.realtimeInputs = []int{0}
	e.realtimeOutputs = []int{0}

	e.updateLatency()

	assert.Equal(t, 20, e.recordingOffset)
}

// TestUpdateLatencyNoopWithoutMultitrack verifies recording_offset stays
// zero (no preroll suppression) when multitrack mode is off.
func TestUpdateLatencyNoopWithoutMultitrack(t *testing.T) {
	const B = 4
	in := newFakeReader("in", 1, make([][]float64, 10))
	in.latency = 99
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(B, in, out)

	e := newTestEngine(cs)
	e.realtimeInputs = []int{0}

	e.updateLatency()

	assert.Equal(t, 0, e.recordingOffset)
}
