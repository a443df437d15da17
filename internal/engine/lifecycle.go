package engine

import (
	"context"
	"runtime"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/errors"
)

// PrepareOperation performs the prepare_operation sequence. Precondition: !IsRunning() && !IsPrepared().
func (e *Engine) PrepareOperation(ctx context.Context) error {
	if e.IsRunning() || e.IsPrepared() {
		return errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryProtocol).
			Context("operation", "prepare_operation").
			Context("reason", "already running or prepared").
			Build()
	}

	// Step 1: raise chainsetup lock, rt-lock every slot.
	e.cs.Lock()
	e.mixSlot.SetRTLock(true)
	for _, slot := range e.chainSlots {
		slot.SetRTLock(true)
	}

	// Step 2: best-effort real-time scheduling priority.
	if e.cs.PriorityRequest > 0 {
		if err := requestRealtimePriority(e.cs.PriorityRequest); err != nil {
			e.logger.Warn("priority request failed, continuing at normal priority",
				"component", ComponentEngine, "requested_priority", e.cs.PriorityRequest, "error", err)
			if e.metrics != nil {
				e.metrics.RecordPriorityWarning()
			}
		}
	}

	// Step 3: initialize every chain that is not yet initialized.
	for i, c := range e.chains {
		if c.IsInitialized() {
			continue
		}
		d := e.cs.Chains[i]
		inCh, outCh := 1, 1
		if d.ConnectedIn >= 0 {
			inCh = e.cs.Inputs[d.ConnectedIn].Channels()
		}
		if d.ConnectedOut >= 0 {
			outCh = e.cs.Outputs[d.ConnectedOut].Channels()
		}
		c.Init(e.chainSlots[i], inCh, outCh, d.ConnectedIn, d.ConnectedOut)
	}

	// Step 4: start subsystem servers.
	if e.proxyServer != nil {
		if err := e.proxyServer.Start(); err != nil {
			return errors.New(err).Component(ComponentEngine).Category(errors.CategorySetup).
				Context("operation", "prepare_operation").Context("step", "start_proxy").Build()
		}
		e.proxyServer.WaitForFull()
	}
	if err := e.midiServer.Init(); err != nil {
		e.logger.Warn("midi server init failed", "component", ComponentEngine, "error", err)
	} else if err := e.midiServer.Start(); err != nil {
		e.logger.Warn("midi server start failed", "component", ComponentEngine, "error", err)
	}

	// Step 5: prepare realtime objects, then prefill realtime outputs.
	for _, idx := range e.realtimeInputs {
		if rt, ok := e.cs.Inputs[idx].(audioio.RealtimeObject); ok {
			if err := rt.Prepare(ctx); err != nil {
				return errors.New(err).Component(ComponentEngine).Category(errors.CategorySetup).
					Context("operation", "prepare_operation").Context("object", "input").Context("index", idx).Build()
			}
		}
	}
	for _, idx := range e.realtimeOutputs {
		if rt, ok := e.cs.Outputs[idx].(audioio.RealtimeObject); ok {
			if err := rt.Prepare(ctx); err != nil {
				return errors.New(err).Component(ComponentEngine).Category(errors.CategorySetup).
					Context("operation", "prepare_operation").Context("object", "output").Context("index", idx).Build()
			}
		}
	}
	e.computePrefillThreshold()
	if err := e.prefillRealtimeOutputs(); err != nil {
		return err
	}

	// Step 6.
	for _, idx := range e.nonRealtimeInputs {
		if setter, ok := e.cs.Inputs[idx].(audioio.BufferSizeSetter); ok {
			setter.SetBufferSize(e.cs.BufferSize)
		}
	}
	e.prerollSamples = e.cs.BufferSize
	e.prepared.Store(true)
	e.finished.Store(false)
	e.errored.Store(false)
	e.initEngineState()
	e.setStatus(StatusStopped)
	return nil
}

// computePrefillThreshold derives prefillThreshold from the configured
// prefill policy: PrefillNone disables prefill, PrefillFixed uses the
// configured block count, PrefillAuto uses the smallest prefill_space
// reported across realtime outputs, converted from frames to whole blocks,
// so no single output's ring overflows.
func (e *Engine) computePrefillThreshold() {
	switch e.cs.Prefill {
	case audioio.PrefillNone:
		e.prefillThreshold = 0
	case audioio.PrefillFixed:
		e.prefillThreshold = e.cs.FixedPrefill
	default:
		threshold := 0
		first := true
		for _, idx := range e.realtimeOutputs {
			rt, ok := e.cs.Outputs[idx].(audioio.RealtimeObject)
			if !ok {
				continue
			}
			space := rt.PrefillSpace()
			if e.cs.BufferSize > 0 {
				space /= e.cs.BufferSize
			}
			if first || space < threshold {
				threshold = space
				first = false
			}
		}
		e.prefillThreshold = threshold
	}
}

// prefillRealtimeOutputs queues prefillThreshold blocks of silence, drawn
// from the zeroed mix slot one block at a time.
func (e *Engine) prefillRealtimeOutputs() error {
	if e.prefillThreshold == 0 || e.cs.Prefill == audioio.PrefillNone {
		return nil
	}
	e.mixSlot.MakeSilent()
	for _, idx := range e.realtimeOutputs {
		writer, ok := e.cs.Outputs[idx].(audioio.Writer)
		if !ok {
			continue
		}
		for i := 0; i < e.prefillThreshold; i++ {
			if err := writer.WriteBuffer(e.mixSlot); err != nil {
				return errors.New(err).Component(ComponentEngine).Category(errors.CategoryOutput).
					Context("operation", "prefill").Context("output_index", idx).Build()
			}
		}
	}
	return nil
}

// StartOperation performs start_operation. Precondition:
// prepared && !running.
func (e *Engine) StartOperation() error {
	if !e.IsPrepared() || e.IsRunning() {
		return errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryProtocol).
			Context("operation", "start_operation").
			Context("reason", "not prepared or already running").
			Build()
	}
	for _, idx := range e.realtimeInputs {
		if rt, ok := e.cs.Inputs[idx].(audioio.RealtimeObject); ok {
			if err := rt.Start(); err != nil {
				return errors.New(err).Component(ComponentEngine).Category(errors.CategorySetup).
					Context("operation", "start_operation").Context("object", "input").Context("index", idx).Build()
			}
		}
	}
	for _, idx := range e.realtimeOutputs {
		if rt, ok := e.cs.Outputs[idx].(audioio.RealtimeObject); ok {
			if err := rt.Start(); err != nil {
				return errors.New(err).Component(ComponentEngine).Category(errors.CategorySetup).
					Context("operation", "start_operation").Context("object", "output").Context("index", idx).Build()
			}
		}
	}
	e.mu.Lock()
	e.stopped = false
	e.mu.Unlock()
	e.running.Store(true)
	e.setStatus(StatusRunning)
	return nil
}

// StopOperation performs stop_operation. Precondition:
// prepared.
func (e *Engine) StopOperation() error {
	if !e.IsPrepared() {
		return errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryProtocol).
			Context("operation", "stop_operation").
			Context("reason", "not prepared").
			Build()
	}
	if e.IsRunning() {
		for _, idx := range e.realtimeInputs {
			if rt, ok := e.cs.Inputs[idx].(audioio.RealtimeObject); ok {
				_ = rt.Stop()
			}
		}
		for _, idx := range e.realtimeOutputs {
			if rt, ok := e.cs.Outputs[idx].(audioio.RealtimeObject); ok {
				_ = rt.Stop()
			}
		}
	}

	e.mixSlot.SetRTLock(false)
	for _, slot := range e.chainSlots {
		slot.SetRTLock(false)
	}

	if e.proxyServer != nil {
		_ = e.proxyServer.Stop()
	}
	_ = e.midiServer.Stop()

	restoreNormalPriority()
	e.cs.Unlock()

	e.running.Store(false)
	e.prepared.Store(false)
	if !e.finished.Load() && !e.errored.Load() {
		e.setStatus(StatusStopped)
	}
	e.signalStop()
	return nil
}
