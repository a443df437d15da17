package proxy

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/samplebuffer"
)

var _ audioio.Object = (*Client)(nil)
var _ audioio.RealtimeObject = (*Client)(nil)
var _ audioio.Reader = (*Client)(nil)
var _ audioio.Writer = (*Client)(nil)

// Client proxies the underlying real object: the engine calls these
// methods on the audio thread and they never block on real I/O, only on
// the ring buffer's own (fast, in-memory) access.
func (c *Client) Label() string            { return c.real.Label() }
func (c *Client) Mode() audioio.Mode       { return c.real.Mode() }
func (c *Client) Channels() int            { return c.channels }
func (c *Client) SampleRate() int          { return c.real.SampleRate() }
func (c *Client) FrameSizeBytes() int      { return c.real.FrameSizeBytes() }
func (c *Client) IsRealtime() bool         { return true } // proxying makes any object realtime-safe
func (c *Client) LockedAudioFormat() bool  { return c.real.LockedAudioFormat() }
func (c *Client) IsOpen() bool             { return c.real.IsOpen() }
func (c *Client) PositionInSamples() int64 { return c.real.PositionInSamples() }
func (c *Client) Finished() bool           { return c.finished.Load() }

// Latency includes the underlying object's own latency plus the ring's
// buffering depth, since both delay the sample from production to
// consumption.
func (c *Client) Latency() int {
	return c.real.Latency() + c.server.bufferCount*c.server.bufferSize
}

func (c *Client) Open(ctx context.Context) error  { return c.real.Open(ctx) }
func (c *Client) Close() error                    { return c.real.Close() }

// Prepare delegates to the underlying object when it is itself realtime
// (e.g. a soundcard.Device); file-backed objects have nothing to prepare.
func (c *Client) Prepare(ctx context.Context) error {
	if rt, ok := c.real.(audioio.RealtimeObject); ok {
		return rt.Prepare(ctx)
	}
	return nil
}

// Start starts the underlying object if it is realtime; the proxy's own
// worker is started/stopped independently via Server.Start/Stop.
func (c *Client) Start() error {
	if rt, ok := c.real.(audioio.RealtimeObject); ok {
		return rt.Start()
	}
	return nil
}

// Stop stops the underlying object if it is realtime.
func (c *Client) Stop() error {
	if rt, ok := c.real.(audioio.RealtimeObject); ok {
		return rt.Stop()
	}
	return nil
}

// PrefillSpace reports how many frames may be queued into the ring before
// it is considered full.
func (c *Client) PrefillSpace() int {
	return c.ring.Free() / (c.channels * bytesPerSample)
}

// IsRunning reports whether the proxy's background worker is servicing
// this client.
func (c *Client) IsRunning() bool { return c.server.IsRunning() }

// ReadBuffer pulls already-decoded samples from the ring; it never blocks
// on real device/file I/O, only briefly on the ring's internal lock.
func (c *Client) ReadBuffer(buf audioio.Buffer) error {
	frameBytes := c.channels * bytesPerSample
	avail := c.ring.Length()
	frames := avail / frameBytes
	if frames > buf.Capacity() {
		frames = buf.Capacity()
	}
	if frames == 0 {
		buf.SetLength(0)
		return nil
	}
	chunk := make([]byte, frames*frameBytes)
	n, _ := c.ring.Read(chunk)
	chunk = chunk[:n]
	decoded := decodeBuffer(chunk, c.channels)
	buf.SetLength(decoded.Length())
	for ch := 0; ch < buf.Channels() && ch < c.channels; ch++ {
		copy(buf.Plane(ch), decoded.Plane(ch))
	}
	return nil
}

// WriteBuffer pushes samples into the ring for the worker to drain; it
// never blocks on real device/file I/O.
func (c *Client) WriteBuffer(buf audioio.Buffer) error {
	encoded := encodeBuffer(buf)
	_, _ = c.ring.Write(encoded)
	return nil
}

func newScratchBuffer(frames, channels int) *samplebuffer.Buffer {
	return samplebuffer.New(frames, channels)
}

func encodeBuffer(buf audioio.Buffer) []byte {
	frames := buf.Length()
	channels := buf.Channels()
	out := make([]byte, frames*channels*bytesPerSample)
	for c := 0; c < channels; c++ {
		plane := buf.Plane(c)
		for i := 0; i < frames; i++ {
			off := (i*channels + c) * bytesPerSample
			binary.LittleEndian.PutUint64(out[off:], math.Float64bits(plane[i]))
		}
	}
	return out
}

func decodeBuffer(data []byte, channels int) *samplebuffer.Buffer {
	frameBytes := channels * bytesPerSample
	frames := len(data) / frameBytes
	buf := samplebuffer.New(frames, channels)
	buf.SetLength(frames)
	for c := 0; c < channels; c++ {
		plane := buf.Plane(c)
		for i := 0; i < frames; i++ {
			off := (i*channels + c) * bytesPerSample
			plane[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		}
	}
	return buf
}
