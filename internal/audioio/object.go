// Package audioio defines the AudioObject capability set the engine relies
// on at runtime, and the Chainsetup the engine executes. Concrete backends
// (soundcard, wavfile, flacfile, ftpfile, sftpfile) live in subpackages and
// only need to satisfy Object / RealtimeObject.
package audioio

import "context"

// Mode describes the direction an Object was opened for.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeReadWrite
)

// String renders the mode the way diagnostics and logs expect it.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read_write"
	default:
		return "unknown"
	}
}

// Object is the capability set every audio input/output must satisfy
//. Real backends additionally implement Reader or Writer
// depending on Mode, and RealtimeObject when IsRealtime is true.
type Object interface {
	Label() string
	Mode() Mode
	Channels() int
	SampleRate() int
	FrameSizeBytes() int

	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	PositionInSamples() int64
	Finished() bool

	// Latency reports the object's inherent I/O latency in samples, used
	// by the engine's recording-offset calculation.
	Latency() int

	// LockedAudioFormat reports whether sample rate/channel count are
	// fixed for the lifetime of this object (true once Open succeeds for
	// most backends; some file formats may allow retuning before Open).
	LockedAudioFormat() bool

	IsRealtime() bool
}

// Reader is implemented by objects opened with ModeRead or ModeReadWrite.
// ReadBuffer fills buf up to its capacity and never returns an error in
// steady state; end of stream is signaled by Finished() becoming true, with
// buf's length shrunk to the number of frames actually read.
type Reader interface {
	ReadBuffer(buf Buffer) error
}

// Writer is implemented by objects opened with ModeWrite or ModeReadWrite.
type Writer interface {
	WriteBuffer(buf Buffer) error
}

// Buffer is the narrow slice of samplebuffer.Buffer's surface that audioio
// backends need; it avoids an import cycle (samplebuffer never needs to
// know about audioio).
type Buffer interface {
	Channels() int
	Capacity() int
	Length() int
	Plane(c int) []float64
	SetLength(n int)
	MakeSilent()
}

// RealtimeObject is implemented by objects whose I/O is driven by the
// engine's prepare/start/stop lifecycle rather than being always-on.
type RealtimeObject interface {
	Object
	Prepare(ctx context.Context) error
	Start() error
	Stop() error
	// PrefillSpace returns the number of silent frames that may be queued
	// before Start without blocking.
	PrefillSpace() int
	IsRunning() bool
}

// BufferSizeSetter is implemented by non-realtime objects whose I/O chunk
// size may be retuned per call.
type BufferSizeSetter interface {
	SetBufferSize(frames int)
}
