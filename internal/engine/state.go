package engine

import "context"

// seeker is the optional capability an audio object implements to support
// position opcodes (rewind/forward/setpos/setpos_live_samples).
// Objects that don't implement it (e.g. realtime devices) are left alone.
type seeker interface {
	SeekSamples(position int64) error
}

// UpdateEngineState runs between iterations. It never mutates transport
// state directly; it enqueues commands so every state change is
// serialized through the one queue rather than shared mutable state.
func (e *Engine) UpdateEngineState() {
	if e.IsRunning() && !e.finished.Load() &&
		e.inputsNotFinished == 0 && e.outputsFinishedCount.Load() == 0 {
		e.Command(OpStop, 0)
		e.finished.Store(true)
		e.setStatus(StatusFinished)
		return
	}
	if e.Status() == StatusError && e.IsRunning() {
		e.Command(OpStop, 0)
	}
}

// InterpretQueue drains the command queue to empty, applying each command
// in enqueue order. It returns the transport requests accumulated along
// the way; the driver acts on them after the drain completes. ctx is
// threaded through to the position opcodes (rewind/forward/setpos), which
// may need to re-run prepare_operation as part of their conditional-stop/
// conditional-start dance.
func (e *Engine) InterpretQueue(ctx context.Context) TransportRequest {
	var req TransportRequest
	for {
		cmd, ok := e.queue.PopFront()
		if !ok {
			return req
		}
		e.applyCommand(ctx, cmd, &req)
	}
}

// TransportRequest aggregates the start/stop/exit effects of a single
// InterpretQueue drain. Each start or stop is checked against the running
// flag when it is interpreted: a start is dropped while running and a stop
// while not running, so stop then start in one drain still stops a
// running engine.
type TransportRequest struct {
	Start bool
	Stop  bool
	Exit  bool
}

func (e *Engine) applyCommand(ctx context.Context, cmd Command, req *TransportRequest) {
	switch cmd.Opcode {
	case OpExit:
		req.Exit = true
	case OpStart:
		if !e.IsRunning() {
			req.Start = true
			req.Stop = false
		}
	case OpStop:
		if e.IsRunning() {
			req.Stop = true
			req.Start = false
		}
	case OpChainSelect:
		e.selectChain(int(cmd.Arg))
	case OpChainMute:
		e.withActiveChain(func(idx int) { e.chains[idx].ToggleMuting() })
	case OpChainBypass:
		e.withActiveChain(func(idx int) { e.chains[idx].ToggleProcessing() })
	case OpOperatorSelect:
		e.withActiveChain(func(idx int) {
			if err := e.chains[idx].SelectChainOperator(int(cmd.Arg)); err != nil {
				_ = e.chains[idx].SelectChainOperator(0)
				e.cs.ActiveOperator = 0
				return
			}
			e.cs.ActiveOperator = int(cmd.Arg)
		})
	case OpOperatorParamSelect:
		e.withActiveChain(func(idx int) {
			if err := e.chains[idx].SelectChainOperatorParameter(int(cmd.Arg)); err == nil {
				e.cs.ActiveParameter = int(cmd.Arg)
			}
		})
	case OpOperatorParamValue:
		e.withActiveChain(func(idx int) { _ = e.chains[idx].SetParameter(cmd.Arg) })
	case OpRewind:
		e.seekRelative(ctx, -cmd.Arg)
	case OpForward:
		e.seekRelative(ctx, cmd.Arg)
	case OpSetPos:
		e.seekAbsolute(ctx, cmd.Arg)
	case OpSetPosLiveSamples:
		e.seekLiveSamples(int64(cmd.Arg))
	}
}

func (e *Engine) selectChain(index int) {
	if index < 0 || index >= len(e.chains) {
		return
	}
	e.cs.ActiveChain = index
}

func (e *Engine) withActiveChain(fn func(idx int)) {
	idx := e.cs.ActiveChain
	if idx < 0 || idx >= len(e.chains) {
		return
	}
	fn(idx)
}

// seekRelative implements rewind/forward: conditional-stop, seek by
// deltaSeconds × sample rate, conditional-start.
func (e *Engine) seekRelative(ctx context.Context, deltaSeconds float64) {
	delta := int64(deltaSeconds * float64(e.cs.SampleRate))
	e.conditionalStopSeekStart(ctx, func() {
		e.seekTo(int64(e.cs.Position) + delta)
	})
}

// seekAbsolute implements setpos: conditional-stop, seek to
// positionSeconds × sample rate, conditional-start.
func (e *Engine) seekAbsolute(ctx context.Context, positionSeconds float64) {
	target := int64(positionSeconds * float64(e.cs.SampleRate))
	e.conditionalStopSeekStart(ctx, func() {
		e.seekTo(target)
	})
}

// seekLiveSamples implements setpos_live_samples: it skips the
// conditional-stop/start dance entirely and seeks in place, intended for
// cheap in-object seeks while running.
func (e *Engine) seekLiveSamples(positionSamples int64) {
	e.seekTo(positionSamples)
}

// conditionalStopSeekStart stops the engine only if it is running
// (recording that fact in conditionalStopped), runs seekFn, then restarts
// the engine iff the stop it performed was conditional.
//
// StopOperation is the full stop_operation teardown: it clears prepared
// along with everything else, so restarting after it must re-run
// prepare_operation first, exactly as checkCommandQueue does for a
// queued start request. Calling StartOperation alone here would always
// fail its "prepared" precondition and leave the engine stopped for
// good — the failure was silently swallowed before this fix.
func (e *Engine) conditionalStopSeekStart(ctx context.Context, seekFn func()) {
	stoppedHere := false
	if e.IsRunning() {
		e.conditionalStopped = true
		stoppedHere = true
		if err := e.StopOperation(); err != nil {
			e.logger.Error("stop_operation failed during conditional seek", "component", ComponentEngine, "error", err)
		}
	} else {
		e.conditionalStopped = false
	}

	seekFn()

	if stoppedHere && e.conditionalStopped {
		if !e.IsPrepared() {
			if err := e.PrepareOperation(ctx); err != nil {
				e.logger.Error("prepare_operation failed during conditional seek", "component", ComponentEngine, "error", err)
				e.errored.Store(true)
				e.setStatus(StatusError)
				e.conditionalStopped = false
				return
			}
		}
		if err := e.StartOperation(); err != nil {
			e.logger.Error("start_operation failed during conditional seek", "component", ComponentEngine, "error", err)
		}
		e.conditionalStopped = false
	}
}

// seekTo clamps position to [0, TotalLength] (when set) and seeks every
// object that supports it, plus the chainsetup's own position counter.
func (e *Engine) seekTo(position int64) {
	if position < 0 {
		position = 0
	}
	if e.cs.TotalLengthSet && position > int64(e.cs.TotalLength) {
		position = int64(e.cs.TotalLength)
	}
	e.cs.Position = int(position)

	for _, obj := range e.cs.Inputs {
		if s, ok := obj.(seeker); ok {
			_ = s.SeekSamples(position)
		}
	}
	for _, obj := range e.cs.Outputs {
		if s, ok := obj.(seeker); ok {
			_ = s.SeekSamples(position)
		}
	}
}
