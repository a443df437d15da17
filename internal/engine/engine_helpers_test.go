package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/antorsae/ecasound/internal/audioio"
)

// discardLogger routes test output through a real slog.Logger pointed at
// io.Discard, rather than a nil logger special case.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeObject is an in-memory audioio.Object/Reader/Writer test double: a
// non-realtime file stand-in that serves fixed-size frames from a flat
// buffer and records every write.
type fakeObject struct {
	label    string
	mode     audioio.Mode
	channels int
	rate     int
	latency  int
	realtime bool

	data      [][]float64 // read mode: remaining frames, one slice per call
	writes    [][]float64
	bufSize   int
	opened    atomic.Bool
	finished  atomic.Bool
	positions atomic.Int64
}

func newFakeReader(label string, channels int, frames [][]float64) *fakeObject {
	return &fakeObject{label: label, mode: audioio.ModeRead, channels: channels, rate: 48000, data: frames, bufSize: 1}
}

func newFakeWriter(label string, channels int) *fakeObject {
	return &fakeObject{label: label, mode: audioio.ModeWrite, channels: channels, rate: 48000}
}

func (f *fakeObject) Label() string           { return f.label }
func (f *fakeObject) Mode() audioio.Mode      { return f.mode }
func (f *fakeObject) Channels() int           { return f.channels }
func (f *fakeObject) SampleRate() int         { return f.rate }
func (f *fakeObject) FrameSizeBytes() int     { return f.channels * 8 }
func (f *fakeObject) IsRealtime() bool        { return f.realtime }
func (f *fakeObject) IsOpen() bool            { return f.opened.Load() }
func (f *fakeObject) LockedAudioFormat() bool { return true }
func (f *fakeObject) PositionInSamples() int64 { return f.positions.Load() }
func (f *fakeObject) Finished() bool           { return f.finished.Load() }
func (f *fakeObject) Latency() int             { return f.latency }

func (f *fakeObject) Open(ctx context.Context) error { f.opened.Store(true); return nil }
func (f *fakeObject) Close() error                   { return nil }

func (f *fakeObject) SetBufferSize(frames int) { f.bufSize = frames }

func (f *fakeObject) ReadBuffer(buf audioio.Buffer) error {
	if len(f.data) == 0 {
		buf.SetLength(0)
		f.finished.Store(true)
		return nil
	}
	frame := f.data[0]
	f.data = f.data[1:]
	n := f.bufSize
	if n <= 0 || n > buf.Capacity() {
		n = buf.Capacity()
	}
	buf.SetLength(n)
	for c := 0; c < buf.Channels(); c++ {
		plane := buf.Plane(c)
		for i := range plane {
			if c < len(frame) {
				plane[i] = frame[c]
			}
		}
	}
	f.positions.Add(int64(n))
	if len(f.data) == 0 {
		f.finished.Store(true)
	}
	return nil
}

func (f *fakeObject) WriteBuffer(buf audioio.Buffer) error {
	row := make([]float64, buf.Channels())
	for c := 0; c < buf.Channels(); c++ {
		row[c] = buf.Plane(c)[0]
	}
	f.writes = append(f.writes, row)
	f.positions.Add(int64(buf.Length()))
	return nil
}

// newTestChainsetup builds a minimal one-chain chainsetup wired from in to
// out, with a sample-accurate BufferSize/SampleRate for scenario tests.
func newTestChainsetup(bufferSize int, in, out *fakeObject) *audioio.Chainsetup {
	cs := audioio.New(bufferSize, in.rate)
	cs.AddInput(in)
	cs.AddOutput(out)
	cs.AddChain(audioio.ChainDescriptor{Name: "main", ConnectedIn: 0, ConnectedOut: 0})
	return cs
}

func newTestEngine(cs *audioio.Chainsetup) *Engine {
	e, err := New(cs, nil, discardLogger())
	if err != nil {
		panic(err)
	}
	return e
}
