package chain

import (
	"testing"

	"github.com/antorsae/ecasound/internal/samplebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gainOperator struct {
	gain     float64
	selected int
}

func (g *gainOperator) Process(buf *samplebuffer.Buffer) {
	for c := 0; c < buf.Channels(); c++ {
		plane := buf.Plane(c)
		for i := range plane {
			plane[i] *= g.gain
		}
	}
}

func (g *gainOperator) SelectParameter(i int) error {
	g.selected = i
	return nil
}

func (g *gainOperator) SetParameter(v float64) error {
	g.gain = v
	return nil
}

func TestProcessIsNoopWhenMuted(t *testing.T) {
	buf := samplebuffer.New(4, 1)
	for i := range buf.Plane(0) {
		buf.Plane(0)[i] = 1
	}

	c := New("main")
	op := &gainOperator{gain: 2}
	c.AddOperator(op)
	c.Init(buf, 1, 1, 0, 0)
	c.ToggleMuting()

	c.Process()

	for _, v := range buf.Plane(0) {
		assert.Equal(t, 1.0, v)
	}
}

func TestProcessAppliesOperatorsInOrder(t *testing.T) {
	buf := samplebuffer.New(4, 1)
	for i := range buf.Plane(0) {
		buf.Plane(0)[i] = 1
	}

	c := New("main")
	c.AddOperator(&gainOperator{gain: 2})
	c.AddOperator(&gainOperator{gain: 3})
	c.Init(buf, 1, 1, 0, 0)

	c.Process()

	for _, v := range buf.Plane(0) {
		assert.Equal(t, 6.0, v)
	}
}

func TestProcessPassesThroughWhenBypassed(t *testing.T) {
	buf := samplebuffer.New(4, 1)
	for i := range buf.Plane(0) {
		buf.Plane(0)[i] = 5
	}

	c := New("main")
	c.AddOperator(&gainOperator{gain: 100})
	c.Init(buf, 1, 1, 0, 0)
	c.SetBypassed(true)

	c.Process()

	for _, v := range buf.Plane(0) {
		assert.Equal(t, 5.0, v)
	}
}

func TestDisconnectBufferClearsInitialized(t *testing.T) {
	buf := samplebuffer.New(4, 1)
	c := New("main")
	c.Init(buf, 1, 1, 0, 0)
	require.True(t, c.IsInitialized())

	c.DisconnectBuffer()

	assert.False(t, c.IsInitialized())
}

func TestSetParameterRequiresOperatorSelection(t *testing.T) {
	c := New("main")
	c.AddOperator(&gainOperator{})

	err := c.SetParameter(1.0)
	assert.Error(t, err)

	require.NoError(t, c.SelectChainOperator(0))
	require.NoError(t, c.SelectChainOperatorParameter(0))
	assert.NoError(t, c.SetParameter(1.0))
}

func TestSelectChainOperatorRejectsOutOfRange(t *testing.T) {
	c := New("main")
	c.AddOperator(&gainOperator{})

	assert.Error(t, c.SelectChainOperator(5))
	assert.Error(t, c.SelectChainOperator(-1))
}

func TestToggleMutingAndProcessing(t *testing.T) {
	c := New("main")
	assert.False(t, c.IsMuted())
	assert.True(t, c.ToggleMuting())
	assert.False(t, c.ToggleMuting())

	assert.False(t, c.IsProcessing())
	assert.True(t, c.ToggleProcessing())
}
