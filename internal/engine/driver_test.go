package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExecSingleInputSingleOutputFileToFile covers the simplest run:
// single input -> single chain -> single output, length 3*B. Expects 3
// reads, 3 writes, the run marked finished once the total length is
// reached, and status not_ready once Exec has returned.
func TestExecSingleInputSingleOutputFileToFile(t *testing.T) {
	const B = 4
	in := newFakeReader("in", 1, [][]float64{{0.1}, {0.2}, {0.3}})
	out := newFakeWriter("out", 1)

	cs := newTestChainsetup(B, in, out)
	cs.TotalLengthSet = true
	cs.TotalLength = 3 * B

	e := newTestEngine(cs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Exec(ctx, true) }()

	e.Command(OpStart, 0)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return")
	}

	assert.Equal(t, StatusNotReady, e.Status())
	assert.True(t, e.finished.Load())
	assert.Len(t, out.writes, 3)
	assert.False(t, e.IsValid())
}

// TestExecCommandDrivenStop covers the case where, from running, a
// controller enqueues stop; wait_for_stop returns satisfied before its
// timeout.
func TestExecCommandDrivenStop(t *testing.T) {
	const B = 4
	// An input that never finishes (Finished() stays false) so the run
	// only ends via the command-driven stop, not natural completion.
	in := newFakeReader("in", 1, make([][]float64, 1000))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(B, in, out)

	e := newTestEngine(cs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Exec(ctx, false) }()

	e.Command(OpStart, 0)

	require.Eventually(t, e.IsRunning, time.Second, 5*time.Millisecond)

	e.Command(OpStop, 0)

	stopped := e.WaitForStop(ctx)
	assert.True(t, stopped)
	assert.False(t, e.IsRunning())

	e.Command(OpExit, 0)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after exit")
	}
}
