package audioio

import (
	"sync"

	"github.com/antorsae/ecasound/internal/errors"
)

// ComponentChainsetup identifies errors raised by this file.
const ComponentChainsetup = "audioio.chainsetup"

// PrefillPolicy controls how much silence the engine queues into
// realtime outputs before starting the transport.
type PrefillPolicy int

const (
	// PrefillAuto sizes the prefill from each output's PrefillSpace.
	PrefillAuto PrefillPolicy = iota
	// PrefillNone skips prefill entirely (objects must tolerate cold start).
	PrefillNone
	// PrefillFixed queues a fixed number of blocks (FixedPrefill) regardless
	// of PrefillSpace.
	PrefillFixed
)

// ChainDescriptor names a chain and the index of its bound input/output in
// the Chainsetup's Inputs/Outputs slices.
type ChainDescriptor struct {
	Name         string
	ConnectedIn  int // index into Chainsetup.Inputs, -1 if disconnected
	ConnectedOut int // index into Chainsetup.Outputs, -1 if disconnected
}

// Chainsetup is the externally supplied, engine-read-only description of
// the audio graph to execute. The engine never mutates the identities of
// Inputs/Outputs/Chains; it may only flip Locked and the active-index
// fields used by command interpretation.
type Chainsetup struct {
	mu sync.RWMutex

	Inputs  []Object
	Outputs []Object
	Chains  []ChainDescriptor

	BufferSize     int
	SampleRate     int
	Looping        bool
	TotalLengthSet bool
	// TotalLength is the run length in samples, meaningful only when
	// TotalLengthSet is true.
	TotalLength int
	// Position is the chainsetup's transport position in samples, advanced
	// by the engine at the top of every iteration.
	Position     int
	Multitrack   bool
	Prefill      PrefillPolicy
	FixedPrefill int

	// PriorityRequest is the real-time scheduling priority the driver
	// should request from the OS (0 = no request).
	PriorityRequest int

	// Active* track the targets of the next command-queue operator/
	// parameter opcodes.
	ActiveChain     int
	ActiveOperator  int
	ActiveParameter int

	locked bool
}

// New builds an empty Chainsetup with sane defaults (no active chain
// selected, prefill automatic).
func New(bufferSize, sampleRate int) *Chainsetup {
	return &Chainsetup{
		BufferSize:      bufferSize,
		SampleRate:      sampleRate,
		Prefill:         PrefillAuto,
		ActiveChain:     -1,
		ActiveOperator:  -1,
		ActiveParameter: -1,
	}
}

// Lock raises the locked flag for the duration of engine operation. While
// locked, structural edits (AddInput/AddOutput/AddChain) are rejected.
func (cs *Chainsetup) Lock() {
	cs.mu.Lock()
	cs.locked = true
	cs.mu.Unlock()
}

// Unlock lowers the locked flag.
func (cs *Chainsetup) Unlock() {
	cs.mu.Lock()
	cs.locked = false
	cs.mu.Unlock()
}

// IsLocked reports the current locked state.
func (cs *Chainsetup) IsLocked() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.locked
}

// AddInput appends an input object. It panics with a ProtocolViolation if
// the chainsetup is locked (the controller must not mutate the graph while
// the engine holds it).
func (cs *Chainsetup) AddInput(obj Object) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.requireUnlockedLocked("add_input")
	cs.Inputs = append(cs.Inputs, obj)
}

// AddOutput appends an output object; see AddInput for the locked contract.
func (cs *Chainsetup) AddOutput(obj Object) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.requireUnlockedLocked("add_output")
	cs.Outputs = append(cs.Outputs, obj)
}

// AddChain appends a chain descriptor; see AddInput for the locked contract.
func (cs *Chainsetup) AddChain(d ChainDescriptor) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.requireUnlockedLocked("add_chain")
	cs.Chains = append(cs.Chains, d)
}

// requireUnlockedLocked must be called with cs.mu already held.
func (cs *Chainsetup) requireUnlockedLocked(op string) {
	if cs.locked {
		panic(errors.New(nil).
			Component(ComponentChainsetup).
			Category(errors.CategoryProtocol).
			Context("operation", op).
			Context("reason", "chainsetup is locked").
			Build())
	}
}
