package proxy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memObject is an in-memory test double satisfying audioio.Object plus
// Reader or Writer, standing in for a real file/device backend.
type memObject struct {
	label    string
	mode     audioio.Mode
	channels int
	rate     int

	mu     chan struct{}
	frames [][]float64 // queued frames for read mode, or collected writes

	writes atomic.Int64
	opened atomic.Bool
}

func newMemReader(label string, channels int, data [][]float64) *memObject {
	return &memObject{label: label, mode: audioio.ModeRead, channels: channels, rate: 48000, frames: data}
}

func newMemWriter(label string, channels int) *memObject {
	return &memObject{label: label, mode: audioio.ModeWrite, channels: channels, rate: 48000}
}

func (m *memObject) Label() string            { return m.label }
func (m *memObject) Mode() audioio.Mode       { return m.mode }
func (m *memObject) Channels() int            { return m.channels }
func (m *memObject) SampleRate() int          { return m.rate }
func (m *memObject) FrameSizeBytes() int      { return m.channels * 8 }
func (m *memObject) IsRealtime() bool         { return false }
func (m *memObject) IsOpen() bool             { return m.opened.Load() }
func (m *memObject) LockedAudioFormat() bool  { return true }
func (m *memObject) PositionInSamples() int64 { return 0 }
func (m *memObject) Finished() bool           { return len(m.frames) == 0 }
func (m *memObject) Latency() int             { return 0 }
func (m *memObject) Open(ctx context.Context) error { m.opened.Store(true); return nil }
func (m *memObject) Close() error                   { return nil }

func (m *memObject) ReadBuffer(buf audioio.Buffer) error {
	if len(m.frames) == 0 {
		buf.SetLength(0)
		return nil
	}
	frame := m.frames[0]
	m.frames = m.frames[1:]
	buf.SetLength(1)
	for c := 0; c < buf.Channels() && c < len(frame); c++ {
		buf.Plane(c)[0] = frame[c]
	}
	return nil
}

func (m *memObject) WriteBuffer(buf audioio.Buffer) error {
	m.writes.Add(int64(buf.Length()))
	return nil
}

func TestServerProxiesReadClientThroughRing(t *testing.T) {
	src := newMemReader("in", 1, [][]float64{{0.1}, {0.2}, {0.3}})
	require.NoError(t, src.Open(context.Background()))

	s := NewServer()
	s.SetBufferDefaults(4, 16)
	client := s.RegisterClient(src)
	require.NoError(t, s.Start())
	defer s.Stop()

	var got float64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		buf := newScratchBuffer(1, 1)
		if err := client.ReadBuffer(buf); err == nil && buf.Length() > 0 {
			got = buf.Plane(0)[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.InDelta(t, 0.1, got, 1e-9)
}

func TestServerProxiesWriteClientThroughRing(t *testing.T) {
	dst := newMemWriter("out", 1)
	require.NoError(t, dst.Open(context.Background()))

	s := NewServer()
	s.SetBufferDefaults(4, 16)
	client := s.RegisterClient(dst)
	require.NoError(t, s.Start())
	defer s.Stop()

	buf := newScratchBuffer(1, 1)
	buf.Plane(0)[0] = 0.5
	require.NoError(t, client.WriteBuffer(buf))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && dst.writes.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(1), dst.writes.Load())
}

func TestStopWaitsForWorkerExit(t *testing.T) {
	s := NewServer()
	require.NoError(t, s.Start())
	require.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestUnregisterClientRemovesFromSweep(t *testing.T) {
	src := newMemReader("in", 1, [][]float64{{0.1}})
	s := NewServer()
	client := s.RegisterClient(src)
	s.UnregisterClient(client)

	s.mu.Lock()
	_, present := s.clients[client]
	s.mu.Unlock()
	assert.False(t, present)
}
