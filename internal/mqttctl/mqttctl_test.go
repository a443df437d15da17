package mqttctl

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/engine"
)

// fakeMessage is a minimal mqtt.Message test double carrying only a
// payload, enough to exercise handleMessage's parsing.
type fakeMessage struct{ payload []byte }

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "ecasound/cmd" }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	cs := audioio.New(256, 48000)
	cs.AddChain(audioio.ChainDescriptor{Name: "main", ConnectedIn: -1, ConnectedOut: -1})
	e, err := engine.New(cs, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return New(Config{Topic: "ecasound/cmd"}, e, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleMessageKnownOpcodeWithArg(t *testing.T) {
	c := newTestController(t)

	c.handleMessage(nil, fakeMessage{payload: []byte("copp_value 0.75")})

	cmd, ok := drainOne(c)
	require.True(t, ok)
	assert.Equal(t, engine.OpOperatorParamValue, cmd.Opcode)
	assert.InDelta(t, 0.75, cmd.Arg, 1e-9)
}

func TestHandleMessageKnownOpcodeNoArg(t *testing.T) {
	c := newTestController(t)

	c.handleMessage(nil, fakeMessage{payload: []byte("start")})

	cmd, ok := drainOne(c)
	require.True(t, ok)
	assert.Equal(t, engine.OpStart, cmd.Opcode)
	assert.Zero(t, cmd.Arg)
}

func TestHandleMessageUnknownOpcodeDropped(t *testing.T) {
	c := newTestController(t)

	c.handleMessage(nil, fakeMessage{payload: []byte("not_a_real_opcode")})

	_, ok := drainOne(c)
	assert.False(t, ok)
}

func TestHandleMessageMalformedArgDropped(t *testing.T) {
	c := newTestController(t)

	c.handleMessage(nil, fakeMessage{payload: []byte("setpos not-a-number")})

	_, ok := drainOne(c)
	assert.False(t, ok)
}

func TestHandleMessageEmptyPayloadIgnored(t *testing.T) {
	c := newTestController(t)

	c.handleMessage(nil, fakeMessage{payload: []byte("")})

	_, ok := drainOne(c)
	assert.False(t, ok)
}

// drainOne peeks the controller's engine command queue.
func drainOne(c *Controller) (engine.Command, bool) {
	return c.engine.PeekCommand()
}
