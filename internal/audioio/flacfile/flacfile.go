// Package flacfile implements a read-only audioio.Object for FLAC files
// using github.com/tphakala/flac.
package flacfile

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/tphakala/flac"
)

// ComponentFlacfile identifies errors raised by this package.
const ComponentFlacfile = "audioio.flacfile"

// File is a non-realtime, read-only audioio.Object decoding one FLAC file.
type File struct {
	path string

	channels      int
	sampleRate    int
	bitsPerSample int

	osFile *os.File
	stream *flac.Stream

	// pending holds samples decoded by the last ParseNext call that did
	// not fit in a single ReadBuffer call.
	pending [][]int32

	position atomic.Int64
	finished atomic.Bool
	opened   atomic.Bool
}

var _ audioio.Object = (*File)(nil)
var _ audioio.Reader = (*File)(nil)

// NewReader returns a FLAC decoder for path; the file itself is opened by
// Open.
func NewReader(path string) *File {
	return &File{path: path}
}

func (f *File) Label() string            { return f.path }
func (f *File) Mode() audioio.Mode       { return audioio.ModeRead }
func (f *File) Channels() int            { return f.channels }
func (f *File) SampleRate() int          { return f.sampleRate }
func (f *File) FrameSizeBytes() int      { return f.channels * (f.bitsPerSample / 8) }
func (f *File) IsRealtime() bool         { return false }
func (f *File) IsOpen() bool             { return f.opened.Load() }
func (f *File) Finished() bool           { return f.finished.Load() }
func (f *File) PositionInSamples() int64 { return f.position.Load() }
func (f *File) Latency() int             { return 0 }
func (f *File) LockedAudioFormat() bool  { return f.opened.Load() }

// Open parses the FLAC STREAMINFO header.
func (f *File) Open(ctx context.Context) error {
	osFile, err := os.Open(f.path)
	if err != nil {
		return errors.New(err).Component(ComponentFlacfile).Category(errors.CategorySetup).
			Context("operation", "open").Context("path", f.path).Build()
	}
	f.osFile = osFile

	stream, err := flac.New(osFile)
	if err != nil {
		_ = osFile.Close()
		return errors.New(err).Component(ComponentFlacfile).Category(errors.CategorySetup).
			Context("operation", "parse_header").Context("path", f.path).Build()
	}
	f.stream = stream
	f.channels = int(stream.Info.NChannels)
	f.sampleRate = int(stream.Info.SampleRate)
	f.bitsPerSample = int(stream.Info.BitsPerSample)
	f.opened.Store(true)
	return nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	f.opened.Store(false)
	if f.osFile != nil {
		return f.osFile.Close()
	}
	return nil
}

// ReadBuffer decodes FLAC frames until buf is filled or the stream ends.
// Partial frames left over from a previous decode are drained first so
// ReadBuffer never discards samples across calls.
func (f *File) ReadBuffer(buf audioio.Buffer) error {
	divisor := float64(int64(1) << (f.bitsPerSample - 1))
	frames := 0
	capacity := buf.Capacity()

	for frames < capacity {
		if len(f.pending) == 0 || len(f.pending[0]) == 0 {
			decoded, err := f.stream.ParseNext()
			if err != nil {
				break // EOF or decode error: treat as end of stream
			}
			subframes := make([][]int32, f.channels)
			for c := 0; c < f.channels && c < len(decoded.Subframes); c++ {
				subframes[c] = decoded.Subframes[c].Samples
			}
			f.pending = subframes
		}
		avail := 0
		if len(f.pending) > 0 {
			avail = len(f.pending[0])
		}
		if avail == 0 {
			break
		}
		take := avail
		if frames+take > capacity {
			take = capacity - frames
		}
		for c := 0; c < buf.Channels() && c < f.channels; c++ {
			plane := buf.Plane(c)
			src := f.pending[c]
			for i := 0; i < take; i++ {
				plane[frames+i] = float64(src[i]) / divisor
			}
		}
		for c := range f.pending {
			f.pending[c] = f.pending[c][take:]
		}
		frames += take
	}

	buf.SetLength(frames)
	f.position.Add(int64(frames))
	if frames < capacity {
		f.finished.Store(true)
	}
	return nil
}
