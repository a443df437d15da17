package engine

import (
	"context"
	"testing"

	"github.com/antorsae/ecasound/internal/samplebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInterpretQueueCoalescesStopThenStart verifies that start/stop
// opcodes are applied against the engine's actual running flag at
// interpretation time: a stop enqueued while running is
// honored even if a start follows in the same drain, since the engine is
// still (logically) running when that start is interpreted.
func TestInterpretQueueCoalescesStopThenStart(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)
	require.NoError(t, e.PrepareOperation(context.Background()))
	require.NoError(t, e.StartOperation())

	e.queue.PushBack(Command{Opcode: OpStop})
	e.queue.PushBack(Command{Opcode: OpStart})

	req := e.InterpretQueue(context.Background())
	assert.False(t, req.Start)
	assert.True(t, req.Stop)
}

// TestInterpretQueueChainOperatorSelection exercises c_select/cop_select/
// copp_select/copp_value opcode handling.
func TestInterpretQueueChainOperatorSelection(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)
	e.chains[0].AddOperator(&recordingOperator{})

	e.queue.PushBack(Command{Opcode: OpChainSelect, Arg: 0})
	e.queue.PushBack(Command{Opcode: OpOperatorSelect, Arg: 0})
	e.queue.PushBack(Command{Opcode: OpOperatorParamSelect, Arg: 2})
	e.queue.PushBack(Command{Opcode: OpOperatorParamValue, Arg: 0.75})
	e.InterpretQueue(context.Background())

	assert.Equal(t, 0, cs.ActiveChain)
	assert.Equal(t, 0, cs.ActiveOperator)
	assert.Equal(t, 2, cs.ActiveParameter)
}

// TestInterpretQueueSetposLiveSamplesSkipsStopStart verifies that
// setpos_live_samples seeks in place without stopping a running engine.
func TestInterpretQueueSetposLiveSamplesSkipsStopStart(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)

	require.NoError(t, e.PrepareOperation(context.Background()))
	require.NoError(t, e.StartOperation())

	e.queue.PushBack(Command{Opcode: OpSetPosLiveSamples, Arg: 100})
	e.InterpretQueue(context.Background())

	assert.True(t, e.IsRunning())
	assert.Equal(t, 100, cs.Position)
}

// TestInterpretQueueRewindWhileRunningResumes verifies the conditional-
// stop/seek/conditional-start dance leaves a running engine running: a
// rewind/forward/setpos opcode must not permanently stop the engine just
// because stop_operation clears the prepared flag.
func TestInterpretQueueRewindWhileRunningResumes(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)
	require.NoError(t, e.PrepareOperation(context.Background()))
	require.NoError(t, e.StartOperation())
	require.True(t, e.IsRunning())

	e.queue.PushBack(Command{Opcode: OpRewind, Arg: 1})
	e.InterpretQueue(context.Background())

	assert.True(t, e.IsRunning())
	assert.True(t, e.IsPrepared())
	assert.NotEqual(t, StatusError, e.Status())
}

// TestInterpretQueueSetposWhileRunningResumes is the same check for the
// absolute-position opcode.
func TestInterpretQueueSetposWhileRunningResumes(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)
	require.NoError(t, e.PrepareOperation(context.Background()))
	require.NoError(t, e.StartOperation())

	e.queue.PushBack(Command{Opcode: OpSetPos, Arg: 0})
	e.InterpretQueue(context.Background())

	assert.True(t, e.IsRunning())
	assert.True(t, e.IsPrepared())
}

// TestSeekToClampsToTotalLength verifies the out-of-range resolution from
// open question (a): positions are clamped, not rejected.
func TestSeekToClampsToTotalLength(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	cs.TotalLengthSet = true
	cs.TotalLength = 40
	e := newTestEngine(cs)

	e.seekTo(-5)
	assert.Equal(t, 0, cs.Position)

	e.seekTo(1000)
	assert.Equal(t, 40, cs.Position)
}

// TestUpdateEngineStateEnqueuesStopWhenDrained verifies that once
// inputs_not_finished and outputs_finished_count are both zero while
// running, update_engine_state enqueues a stop and marks finished.
func TestUpdateEngineStateEnqueuesStopWhenDrained(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)
	require.NoError(t, e.PrepareOperation(context.Background()))
	require.NoError(t, e.StartOperation())

	e.inputsNotFinished = 0
	e.UpdateEngineState()

	assert.True(t, e.finished.Load())
	assert.Equal(t, StatusFinished, e.Status())
	cmd, ok := e.queue.Front()
	require.True(t, ok)
	assert.Equal(t, OpStop, cmd.Opcode)
}

// TestUpdateEngineStateEnqueuesStopOnError verifies the OutputError
// propagation policy: status == error while running causes
// update_engine_state to enqueue stop.
func TestUpdateEngineStateEnqueuesStopOnError(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)
	require.NoError(t, e.PrepareOperation(context.Background()))
	require.NoError(t, e.StartOperation())

	e.inputsNotFinished = 1
	e.errored.Store(true)
	e.setStatus(StatusError)
	e.UpdateEngineState()

	cmd, ok := e.queue.Front()
	require.True(t, ok)
	assert.Equal(t, OpStop, cmd.Opcode)
}

// recordingOperator is a minimal chain.Operator test double.
type recordingOperator struct {
	selected int
	value    float64
}

func (o *recordingOperator) Process(buf *samplebuffer.Buffer) {}
func (o *recordingOperator) SelectParameter(i int) error       { o.selected = i; return nil }
func (o *recordingOperator) SetParameter(v float64) error      { o.value = v; return nil }
