package engine

import (
	"time"

	"github.com/antorsae/ecasound/internal/audioio"
)

// EngineIteration runs one pass of inputs → chains → outputs. It never
// returns an error to its caller: OutputError and LatencyWarning/
// PriorityWarning conditions are recorded into engine state and logged
// instead of propagated.
func (e *Engine) EngineIteration() {
	start := time.Now()
	e.inputsNotFinished = 0
	B := e.cs.BufferSize

	e.prehandleControlPosition(B)
	e.readInputsIntoChains(B)
	e.processChains()
	e.mixToOutputs(B)
	e.posthandleControlPosition(B)

	if e.metrics != nil {
		e.metrics.RecordIteration(time.Since(start))
		e.metrics.SetInputsNotFinished(e.inputsNotFinished)
	}
}

// prehandleControlPosition advances the chainsetup position by B and, if
// the total length is now exceeded, shrinks each non-realtime input's
// buffer size to the remaining sample count — the partial final read.
func (e *Engine) prehandleControlPosition(B int) {
	previous := e.cs.Position
	e.cs.Position += B
	if !e.cs.TotalLengthSet || e.cs.Position < e.cs.TotalLength {
		return
	}
	remaining := e.cs.TotalLength - previous
	if remaining < 0 {
		remaining = 0
	}
	for _, idx := range e.nonRealtimeInputs {
		if setter, ok := e.cs.Inputs[idx].(audioio.BufferSizeSetter); ok {
			setter.SetBufferSize(remaining)
		}
	}
}

// readInputsIntoChains reads each input object into every chain it feeds.
func (e *Engine) readInputsIntoChains(B int) {
	for i, obj := range e.cs.Inputs {
		count := e.inputChainCount[i]
		if count == 0 {
			continue
		}
		wasFinished := obj.Finished()
		reader, ok := obj.(audioio.Reader)
		if !ok {
			continue
		}

		if count > 1 {
			e.mixSlot.Reshape(obj.Channels())
			if err := reader.ReadBuffer(e.mixSlot); err != nil {
				e.logger.Warn("input read failed", "component", ComponentEngine, "input_index", i, "error", err)
			}
			for c, d := range e.cs.Chains {
				if d.ConnectedIn != i {
					continue
				}
				slot := e.chainSlots[c]
				slot.Reshape(e.mixSlot.Channels())
				slot.SetLength(e.mixSlot.Length())
				slot.CopyFrom(e.mixSlot)
			}
		} else {
			for c, d := range e.cs.Chains {
				if d.ConnectedIn != i {
					continue
				}
				slot := e.chainSlots[c]
				if err := reader.ReadBuffer(slot); err != nil {
					e.logger.Warn("input read failed", "component", ComponentEngine, "input_index", i, "error", err)
				}
				break
			}
		}

		if !wasFinished && !obj.Finished() {
			e.inputsNotFinished++
		}
	}
}

func (e *Engine) processChains() {
	for _, c := range e.chains {
		c.Process()
	}
}

// mixToOutputs mixes each chain's slot into the outputs it feeds and
// writes the result, skipping realtime outputs still in preroll.
func (e *Engine) mixToOutputs(B int) {
	skipRealtime := e.prerollSamples < e.recordingOffset

	for o, obj := range e.cs.Outputs {
		if skipRealtime && obj.IsRealtime() {
			continue
		}
		writer, ok := obj.(audioio.Writer)
		if !ok {
			continue
		}

		count := e.outputChainCount[o]
		if count == 0 {
			continue
		}

		if count == 1 {
			for c, d := range e.cs.Chains {
				if d.ConnectedOut != o {
					continue
				}
				if err := writer.WriteBuffer(e.chainSlots[c]); err != nil {
					e.recordOutputError(o, err)
				}
				break
			}
		} else {
			contributed := 0
			for c, d := range e.cs.Chains {
				if d.ConnectedOut != o {
					continue
				}
				slot := e.chainSlots[c]
				if contributed == 0 {
					e.mixSlot.Reshape(slot.Channels())
					e.mixSlot.SetLength(slot.Length())
					e.mixSlot.CopyFrom(slot)
					e.mixSlot.DivideBy(float64(count))
				} else {
					e.mixSlot.AddWeighted(slot, float64(count))
				}
				contributed++
			}
			if contributed > 0 {
				if err := writer.WriteBuffer(e.mixSlot); err != nil {
					e.recordOutputError(o, err)
				}
			}
		}

		if obj.Finished() {
			e.outputsFinishedCount.Add(1)
			if e.metrics != nil {
				e.metrics.RecordOutputFinished()
			}
		}
	}

	if skipRealtime {
		e.prerollSamples += B
	}
}

func (e *Engine) recordOutputError(outputIndex int, err error) {
	e.errored.Store(true)
	e.setStatus(StatusError)
	e.logger.Error("output write failed", "component", ComponentEngine, "output_index", outputIndex, "error", err)
	if e.metrics != nil {
		e.metrics.RecordOutputError()
	}
}

// posthandleControlPosition handles reaching the configured total
// length: loop back to the start, or mark the run finished.
func (e *Engine) posthandleControlPosition(B int) {
	if !e.cs.TotalLengthSet || e.cs.Position < e.cs.TotalLength {
		return
	}
	if e.cs.Looping {
		e.inputsNotFinished = 1
		e.seekTo(0)
		for _, idx := range e.nonRealtimeInputs {
			if setter, ok := e.cs.Inputs[idx].(audioio.BufferSizeSetter); ok {
				setter.SetBufferSize(B)
			}
		}
		return
	}
	if len(e.realtimeInputs) == 0 && len(e.realtimeOutputs) == 0 {
		e.requestStop()
		e.finished.Store(true)
		e.setStatus(StatusFinished)
	}
}

func (e *Engine) requestStop() {
	e.Command(OpStop, 0)
}
