// Package samplebuffer implements the planar, multi-channel audio block
// that the engine pumps through chains on every iteration.
package samplebuffer

import (
	"github.com/antorsae/ecasound/internal/errors"
)

// ComponentSampleBuffer identifies errors raised by this package.
const ComponentSampleBuffer = "samplebuffer"

// Buffer is a planar multi-channel audio block of a fixed frame capacity.
//
// Invariants:
//   - length <= capacity for every plane
//   - while rtLocked, no operation may reallocate a plane or grow capacity;
//     only overwrite, reshape within capacity, or mix are permitted
//   - Reshape to a new channel count either reuses existing planes or,
//     under rt-lock, panics if growth is required
type Buffer struct {
	planes   [][]float64 // one slice per channel, cap == capacity
	capacity int         // frames each plane can hold without reallocating
	length   int         // valid frames in each plane, length <= capacity
	rtLocked bool
}

// New allocates a Buffer with the given frame capacity and channel count.
func New(capacity, channels int) *Buffer {
	b := &Buffer{capacity: capacity}
	b.growPlanes(channels)
	b.length = capacity
	return b
}

func (b *Buffer) growPlanes(channels int) {
	if channels <= len(b.planes) {
		b.planes = b.planes[:channels]
		return
	}
	for len(b.planes) < channels {
		n := len(b.planes)
		if n < cap(b.planes) && b.planes[:n+1][n] != nil {
			b.planes = b.planes[:n+1]
			continue
		}
		b.planes = append(b.planes, make([]float64, b.capacity))
	}
}

// Channels returns the current channel count.
func (b *Buffer) Channels() int { return len(b.planes) }

// Capacity returns the per-channel frame capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// Length returns the current valid frame count.
func (b *Buffer) Length() int { return b.length }

// Plane returns the raw sample slice for channel c, sized to Length().
func (b *Buffer) Plane(c int) []float64 {
	return b.planes[c][:b.length]
}

// IsRTLocked reports whether the buffer currently forbids reallocation.
func (b *Buffer) IsRTLocked() bool { return b.rtLocked }

// SetRTLock raises or lowers the real-time lock.
func (b *Buffer) SetRTLock(locked bool) { b.rtLocked = locked }

// SetLength sets the number of valid frames. It never reallocates: n must
// be <= capacity, matching the short-final-read boundary behavior in
// (a partial final read shrinks length, it never grows capacity).
func (b *Buffer) SetLength(n int) {
	if n > b.capacity {
		panic(errors.New(nil).
			Component(ComponentSampleBuffer).
			Category(errors.CategoryProtocol).
			Context("operation", "set_length").
			Context("requested", n).
			Context("capacity", b.capacity).
			Build())
	}
	b.length = n
}

// MakeSilent zeroes every valid sample, keeping length and channel count.
func (b *Buffer) MakeSilent() {
	for c := range b.planes {
		plane := b.planes[c][:b.length]
		for i := range plane {
			plane[i] = 0
		}
	}
}

// Reshape changes the channel count. Under rt-lock, growing beyond the
// number of already-allocated planes is a protocol violation.
func (b *Buffer) Reshape(channels int) {
	if channels == len(b.planes) {
		return
	}
	if b.rtLocked && channels > cap(b.planes) {
		panic(errors.New(nil).
			Component(ComponentSampleBuffer).
			Category(errors.CategoryProtocol).
			Context("operation", "reshape_channels").
			Context("requested_channels", channels).
			Context("allocated_channels", cap(b.planes)).
			Build())
	}
	b.growPlanes(channels)
}

// CopyFrom overwrites self with other's contents. Channel counts must
// match (reshape first if needed); panics otherwise.
func (b *Buffer) CopyFrom(other *Buffer) {
	b.requireSameShape(other, "copy_from")
	for c := range b.planes {
		copy(b.planes[c][:b.length], other.planes[c][:other.length])
	}
}

// AddWeighted sums other into self scaled by 1/w, used for fan-in mixing.
func (b *Buffer) AddWeighted(other *Buffer, w float64) {
	b.requireSameShape(other, "add_weighted")
	scale := 1.0 / w
	for c := range b.planes {
		dst := b.planes[c][:b.length]
		src := other.planes[c][:other.length]
		for i := range dst {
			dst[i] += src[i] * scale
		}
	}
}

// DivideBy scales every valid sample by 1/w.
func (b *Buffer) DivideBy(w float64) {
	scale := 1.0 / w
	for c := range b.planes {
		plane := b.planes[c][:b.length]
		for i := range plane {
			plane[i] *= scale
		}
	}
}

func (b *Buffer) requireSameShape(other *Buffer, op string) {
	if len(b.planes) != len(other.planes) || b.length != other.length {
		panic(errors.New(nil).
			Component(ComponentSampleBuffer).
			Category(errors.CategoryProtocol).
			Context("operation", op).
			Context("self_channels", len(b.planes)).
			Context("other_channels", len(other.planes)).
			Context("self_length", b.length).
			Context("other_length", other.length).
			Build())
	}
}
