// Package engine implements the scheduler core: the command queue, the
// exchangeable Driver, and the Engine itself.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/chain"
	"github.com/antorsae/ecasound/internal/engine/metrics"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/antorsae/ecasound/internal/midi"
	"github.com/antorsae/ecasound/internal/proxy"
	"github.com/antorsae/ecasound/internal/samplebuffer"
)

// ComponentEngine identifies errors raised by this package.
const ComponentEngine = "engine"

// Engine is the scheduler proper.
type Engine struct {
	cs *audioio.Chainsetup

	chains     []*chain.Chain
	chainSlots []*samplebuffer.Buffer
	mixSlot    *samplebuffer.Buffer

	realtimeInputs     []int
	realtimeOutputs    []int
	nonRealtimeInputs  []int
	nonRealtimeOutputs []int

	inputChainCount  []int
	outputChainCount []int

	prefillThreshold int
	recordingOffset  int
	prerollSamples   int

	outputsFinishedCount atomic.Int64
	inputsNotFinished    int

	prepared atomic.Bool
	running  atomic.Bool
	finished atomic.Bool
	errored  atomic.Bool

	mu     sync.Mutex
	status Status

	queue *CommandQueue

	stopCond *sync.Cond
	exitCond *sync.Cond
	stopped  bool
	exited   bool

	// conditionalStopped records whether the last conditional-stop in
	// interpret_queue actually stopped a running engine, so the paired
	// conditional-start knows whether to restart it.
	conditionalStopped bool

	batchMode bool
	valid     atomic.Bool

	proxyServer *proxy.Server
	midiServer  midi.Server

	driver Driver

	// metrics is nil unless SetMetrics is called; every call site guards
	// on this before recording.
	metrics *metrics.EngineMetrics

	logger *slog.Logger
}

// SetMetrics attaches a Prometheus-backed profiling dump to the engine.
// Optional: a nil metrics handle (the default) disables all recording.
func (e *Engine) SetMetrics(m *metrics.EngineMetrics) { e.metrics = m }

// SetProxyServer attaches the double-buffering I/O server driving the
// chainsetup's non-realtime and network objects. Optional: a nil server
// (the default) disables double-buffering, and prepare_operation/
// stop_operation skip it entirely.
func (e *Engine) SetProxyServer(p *proxy.Server) { e.proxyServer = p }

// HasProxyServer reports whether a proxy.Server has been attached.
func (e *Engine) HasProxyServer() bool { return e.proxyServer != nil }

// New constructs an Engine bound to cs. Precondition: cs must describe an
// enabled chainsetup (non-empty chains). It allocates the mix slot and
// per-chain slots, builds the classification caches, and sets status to
// stopped.
func New(cs *audioio.Chainsetup, driver Driver, logger *slog.Logger) (*Engine, error) {
	if len(cs.Chains) == 0 {
		return nil, errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategorySetup).
			Context("operation", "new").
			Context("reason", "chainsetup has no chains").
			Build()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if driver == nil {
		driver = &DefaultDriver{}
	}

	e := &Engine{
		cs:     cs,
		queue:  NewCommandQueue(),
		driver: driver,
		logger: logger,
		midiServer: midi.NoopServer{},
	}
	e.stopCond = sync.NewCond(&e.mu)
	e.exitCond = sync.NewCond(&e.mu)

	cs.Lock()
	defer cs.Unlock()

	e.buildChains()
	e.buildClassification()
	e.buildSlots()

	e.status = StatusStopped
	e.valid.Store(true)
	return e, nil
}

func (e *Engine) buildChains() {
	e.chains = make([]*chain.Chain, len(e.cs.Chains))
	for i, d := range e.cs.Chains {
		e.chains[i] = chain.New(d.Name)
	}
}

func (e *Engine) buildClassification() {
	e.inputChainCount = make([]int, len(e.cs.Inputs))
	e.outputChainCount = make([]int, len(e.cs.Outputs))

	for i, obj := range e.cs.Inputs {
		if obj.IsRealtime() {
			e.realtimeInputs = append(e.realtimeInputs, i)
		} else {
			e.nonRealtimeInputs = append(e.nonRealtimeInputs, i)
		}
	}
	for i, obj := range e.cs.Outputs {
		if obj.IsRealtime() {
			e.realtimeOutputs = append(e.realtimeOutputs, i)
		} else {
			e.nonRealtimeOutputs = append(e.nonRealtimeOutputs, i)
		}
	}
	for _, d := range e.cs.Chains {
		if d.ConnectedIn >= 0 {
			e.inputChainCount[d.ConnectedIn]++
		}
		if d.ConnectedOut >= 0 {
			e.outputChainCount[d.ConnectedOut]++
		}
	}
}

// buildSlots pre-sizes the mix slot to the maximum channel count across
// every input and output so no reshape on the audio path ever needs to
// grow a plane.
func (e *Engine) buildSlots() {
	maxChannels := 1
	for _, obj := range e.cs.Inputs {
		if obj.Channels() > maxChannels {
			maxChannels = obj.Channels()
		}
	}
	for _, obj := range e.cs.Outputs {
		if obj.Channels() > maxChannels {
			maxChannels = obj.Channels()
		}
	}

	e.mixSlot = samplebuffer.New(e.cs.BufferSize, maxChannels)

	e.chainSlots = make([]*samplebuffer.Buffer, len(e.chains))
	for i := range e.chains {
		e.chainSlots[i] = samplebuffer.New(e.cs.BufferSize, maxChannels)
	}
}

// IsValid reports whether the engine has not yet completed Exec.
func (e *Engine) IsValid() bool { return e.valid.Load() }

// IsPrepared reports the prepared flag.
func (e *Engine) IsPrepared() bool { return e.prepared.Load() }

// IsRunning reports the running flag.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// Status returns the current derived status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// BatchMode reports whether Exec was invoked in batch mode.
func (e *Engine) BatchMode() bool { return e.batchMode }

// Command enqueues a controller command; safe from any goroutine other
// than the driver's own.
func (e *Engine) Command(opcode Opcode, arg float64) {
	e.queue.PushBack(Command{Opcode: opcode, Arg: arg})
}

// PeekCommand returns the oldest queued command without removing it, for
// external transports (e.g. internal/mqttctl) and tests that need to
// observe what Command enqueued.
func (e *Engine) PeekCommand() (Command, bool) {
	return e.queue.Front()
}

// Exec runs the engine until driver exit. Precondition:
// IsValid(). Raises the chainsetup lock for the duration, invokes the
// driver, then signals exit and marks the engine invalid.
func (e *Engine) Exec(ctx context.Context, batchMode bool) error {
	if !e.IsValid() {
		return errors.New(nil).
			Component(ComponentEngine).
			Category(errors.CategoryProtocol).
			Context("operation", "exec").
			Context("reason", "engine is not valid").
			Build()
	}
	if err := requireDriver(e.driver); err != nil {
		return err
	}
	e.batchMode = batchMode

	e.cs.Lock()
	defer e.cs.Unlock()

	err := e.driver.Exec(ctx, e, e.cs)

	e.mu.Lock()
	e.exited = true
	e.status = StatusNotReady
	e.mu.Unlock()
	e.exitCond.Broadcast()
	e.valid.Store(false)

	return err
}

// WaitForStop blocks until a stop signal has been broadcast, or ctx is
// done. It reports whether the wait was satisfied.
func (e *Engine) WaitForStop(ctx context.Context) bool {
	return e.waitOn(ctx, e.stopCond, func() bool { return e.stopped })
}

// WaitForExit blocks until Exec has returned, or ctx is done.
func (e *Engine) WaitForExit(ctx context.Context) bool {
	return e.waitOn(ctx, e.exitCond, func() bool { return e.exited })
}

// waitOn blocks the caller until satisfied() is true or ctx is done. The
// context.AfterFunc broadcast is what lets the waiter goroutine itself
// observe ctx cancellation and exit instead of leaking in cond.Wait
// forever; without it nothing would ever wake a waiter stuck past its
// caller's ctx.Done() case.
func (e *Engine) waitOn(ctx context.Context, cond *sync.Cond, satisfied func() bool) bool {
	done := make(chan struct{})
	var result bool
	stop := context.AfterFunc(ctx, cond.Broadcast)
	go func() {
		defer stop()
		e.mu.Lock()
		for !satisfied() && ctx.Err() == nil {
			cond.Wait()
		}
		result = satisfied()
		e.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return result
	case <-ctx.Done():
		return false
	}
}

// initEngineState resets per-run iteration counters and recomputes
// latency compensation. Called once by the driver before entering its
// loop, and again at the end of prepare_operation.
func (e *Engine) initEngineState() {
	e.inputsNotFinished = 0
	e.outputsFinishedCount.Store(0)
	e.conditionalStopped = false
	e.updateLatency()
}

func (e *Engine) signalStop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.stopCond.Broadcast()
}
