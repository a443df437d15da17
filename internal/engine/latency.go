package engine

import "github.com/antorsae/ecasound/internal/audioio"

// updateLatency recomputes recordingOffset from the current realtime
// objects' latencies. It is a no-op unless multitrack
// mode is enabled; non-multitrack runs never suppress output writes for
// preroll, so recordingOffset stays at its zero value.
func (e *Engine) updateLatency() {
	if !e.cs.Multitrack {
		e.recordingOffset = 0
		return
	}

	inLatency, inputsDisagree := e.maxRealtimeInputLatency()
	outLatency, outputsDisagree := e.maxRealtimeOutputLatency()

	offset := inLatency
	if outLatency > offset {
		offset = outLatency
	}
	e.recordingOffset = offset
	if e.metrics != nil {
		e.metrics.SetRecordingOffsetSamples(offset)
	}

	if inputsDisagree {
		e.logger.Warn("realtime inputs report mismatched latency",
			"component", ComponentEngine, "category", "latency_warning")
		e.recordLatencyWarning()
	}
	if outputsDisagree {
		e.logger.Warn("realtime outputs report mismatched effective latency",
			"component", ComponentEngine, "category", "latency_warning")
		e.recordLatencyWarning()
	}
	if e.cs.BufferSize > 0 && offset%e.cs.BufferSize != 0 {
		e.logger.Warn("recording offset is not a multiple of the buffer size",
			"component", ComponentEngine, "category", "latency_warning",
			"recording_offset", offset, "buffer_size", e.cs.BufferSize)
		e.recordLatencyWarning()
	}
}

func (e *Engine) recordLatencyWarning() {
	if e.metrics != nil {
		e.metrics.RecordLatencyWarning()
	}
}

func (e *Engine) maxRealtimeInputLatency() (max int, disagree bool) {
	first := true
	for _, idx := range e.realtimeInputs {
		l := e.cs.Inputs[idx].Latency()
		if first {
			max = l
			first = false
			continue
		}
		if l != max {
			disagree = true
		}
		if l > max {
			max = l
		}
	}
	return max, disagree
}

// maxRealtimeOutputLatency computes the max effective latency across
// realtime outputs. Per open question (b), two outputs are
// compatible iff their effective latency — prefill_blocks·B + latency
// when prefill is used, else just latency — match; any mismatch warns.
func (e *Engine) maxRealtimeOutputLatency() (max int, disagree bool) {
	prefillUsed := e.cs.Prefill != audioio.PrefillNone
	first := true
	for _, idx := range e.realtimeOutputs {
		l := e.cs.Outputs[idx].Latency()
		effective := l
		if prefillUsed {
			effective = e.prefillThreshold*e.cs.BufferSize + l
		}
		if first {
			max = effective
			first = false
			continue
		}
		if effective != max {
			disagree = true
		}
		if effective > max {
			max = effective
		}
	}
	return max, disagree
}
