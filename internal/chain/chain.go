// Package chain implements the ordered operator pipeline bound to one
// input and one output.
package chain

import (
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/antorsae/ecasound/internal/samplebuffer"
)

// ComponentChain identifies errors raised by this package.
const ComponentChain = "chain"

// Operator is the out-of-scope DSP interface: a single step applied to a
// chain's bound buffer in place.
type Operator interface {
	Process(buf *samplebuffer.Buffer)
	SelectParameter(i int) error
	SetParameter(v float64) error
}

// Chain is an ordered pipeline of Operators bound to one connected input
// and one connected output.
type Chain struct {
	Name string

	operators []Operator

	connectedInput  int // index into the owning Chainsetup.Inputs, -1 if disconnected
	connectedOutput int // index into the owning Chainsetup.Outputs, -1 if disconnected

	slot *samplebuffer.Buffer

	initialized bool
	muted       bool
	bypassed    bool
	processing  bool

	selectedOperator  int
	selectedParameter int
}

// New creates an unconnected, uninitialized Chain.
func New(name string) *Chain {
	return &Chain{
		Name:              name,
		connectedInput:    -1,
		connectedOutput:   -1,
		selectedOperator:  -1,
		selectedParameter: -1,
	}
}

// AddOperator appends op to the end of the chain's pipeline.
func (c *Chain) AddOperator(op Operator) {
	c.operators = append(c.operators, op)
}

// NumberOfChainOperators reports the pipeline length.
func (c *Chain) NumberOfChainOperators() int { return len(c.operators) }

// Init binds the chain to slot and its input/output indices. slot is
// reshaped to the requested channel counts; a subsequent Process operates
// on it in place.
func (c *Chain) Init(slot *samplebuffer.Buffer, inChannels, outChannels int, connectedInput, connectedOutput int) {
	channels := outChannels
	if inChannels > channels {
		channels = inChannels
	}
	slot.Reshape(channels)
	c.slot = slot
	c.connectedInput = connectedInput
	c.connectedOutput = connectedOutput
	c.initialized = true
	c.processing = true
}

// IsInitialized reports whether Init has been called since the last
// DisconnectBuffer.
func (c *Chain) IsInitialized() bool { return c.initialized }

// ConnectedInput returns the bound input index, or -1.
func (c *Chain) ConnectedInput() int { return c.connectedInput }

// ConnectedOutput returns the bound output index, or -1.
func (c *Chain) ConnectedOutput() int { return c.connectedOutput }

// DisconnectBuffer severs the chain from its bound slot — the only safe
// way to do so at shutdown.
func (c *Chain) DisconnectBuffer() {
	c.slot = nil
	c.initialized = false
}

// IsMuted reports the muted flag.
func (c *Chain) IsMuted() bool { return c.muted }

// ToggleMuting flips the muted flag and returns the new value.
func (c *Chain) ToggleMuting() bool {
	c.muted = !c.muted
	return c.muted
}

// IsProcessing reports whether Process will run the operator pipeline.
func (c *Chain) IsProcessing() bool { return c.processing }

// ToggleProcessing flips the processing flag and returns the new value.
func (c *Chain) ToggleProcessing() bool {
	c.processing = !c.processing
	return c.processing
}

// SetBypassed sets whether samples pass through unchanged, skipping every
// operator while still counting as "processing" for IsProcessing purposes.
func (c *Chain) SetBypassed(bypassed bool) { c.bypassed = bypassed }

// IsBypassed reports the bypass flag.
func (c *Chain) IsBypassed() bool { return c.bypassed }

// Process runs the bound slot through the operator pipeline in order: a
// no-op when muted; samples pass through unchanged when bypassed;
// otherwise every operator is applied in place.
func (c *Chain) Process() {
	if c.muted || !c.processing {
		return
	}
	if c.bypassed || c.slot == nil {
		return
	}
	for _, op := range c.operators {
		op.Process(c.slot)
	}
}

// SelectChainOperator selects operator i as the target of subsequent
// SelectChainOperatorParameter/SetParameter calls.
func (c *Chain) SelectChainOperator(i int) error {
	if i < 0 || i >= len(c.operators) {
		return errors.New(nil).
			Component(ComponentChain).
			Category(errors.CategoryProtocol).
			Context("operation", "select_chain_operator").
			Context("index", i).
			Context("count", len(c.operators)).
			Build()
	}
	c.selectedOperator = i
	c.selectedParameter = -1
	return nil
}

// SelectChainOperatorParameter selects parameter i of the currently
// selected operator.
func (c *Chain) SelectChainOperatorParameter(i int) error {
	if c.selectedOperator < 0 {
		return errors.New(nil).
			Component(ComponentChain).
			Category(errors.CategoryProtocol).
			Context("operation", "select_chain_operator_parameter").
			Context("reason", "no operator selected").
			Build()
	}
	c.selectedParameter = i
	return nil
}

// SetParameter applies value to the currently selected operator/parameter.
func (c *Chain) SetParameter(value float64) error {
	if c.selectedOperator < 0 {
		return errors.New(nil).
			Component(ComponentChain).
			Category(errors.CategoryProtocol).
			Context("operation", "set_parameter").
			Context("reason", "no operator selected").
			Build()
	}
	op := c.operators[c.selectedOperator]
	if err := op.SelectParameter(c.selectedParameter); err != nil {
		return err
	}
	return op.SetParameter(value)
}
