// Package wavfile implements audioio.Object for WAV files using
// go-audio/wav for decoding and encoding and go-audio/audio for the PCM
// buffer types those codecs speak.
package wavfile

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/errors"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ComponentWavfile identifies errors raised by this package.
const ComponentWavfile = "audioio.wavfile"

// File is a non-realtime audioio.Object reading or writing one WAV file.
type File struct {
	path string
	mode audioio.Mode

	channels   int
	sampleRate int
	bitDepth   int
	bufFrames  int

	osFile   *os.File
	decoder  *wav.Decoder
	encoder  *wav.Encoder

	position atomic.Int64
	finished atomic.Bool
	opened   atomic.Bool
}

var _ audioio.Object = (*File)(nil)
var _ audioio.Reader = (*File)(nil)
var _ audioio.Writer = (*File)(nil)
var _ audioio.BufferSizeSetter = (*File)(nil)

// NewReader returns a decoder for path; the file itself is opened by Open.
// Channel count, sample rate, and bit depth are read from the file header
// once Open succeeds.
func NewReader(path string, bufFrames int) *File {
	if bufFrames <= 0 {
		bufFrames = 4096
	}
	return &File{path: path, mode: audioio.ModeRead, bufFrames: bufFrames}
}

// NewWriter creates path for encoding at the given format. The format is
// locked in at Open.
func NewWriter(path string, channels, sampleRate, bitDepth int) *File {
	return &File{
		path:       path,
		mode:       audioio.ModeWrite,
		channels:   channels,
		sampleRate: sampleRate,
		bitDepth:   bitDepth,
		bufFrames:  4096,
	}
}

func (f *File) Label() string           { return f.path }
func (f *File) Mode() audioio.Mode      { return f.mode }
func (f *File) Channels() int           { return f.channels }
func (f *File) SampleRate() int         { return f.sampleRate }
func (f *File) FrameSizeBytes() int     { return f.channels * (f.bitDepth / 8) }
func (f *File) IsRealtime() bool        { return false }
func (f *File) IsOpen() bool            { return f.opened.Load() }
func (f *File) Finished() bool          { return f.finished.Load() }
func (f *File) PositionInSamples() int64 { return f.position.Load() }
func (f *File) Latency() int            { return 0 } // file I/O has no device latency to compensate
func (f *File) LockedAudioFormat() bool { return f.opened.Load() }

// SetBufferSize retunes the PCM chunk size used by ReadBuffer/WriteBuffer.
func (f *File) SetBufferSize(frames int) { f.bufFrames = frames }

// Open opens the underlying file and, for reads, parses the WAV header.
func (f *File) Open(ctx context.Context) error {
	var err error
	if f.mode == audioio.ModeRead {
		f.osFile, err = os.Open(f.path)
		if err != nil {
			return errors.New(err).Component(ComponentWavfile).Category(errors.CategorySetup).
				Context("operation", "open").Context("path", f.path).Build()
		}
		f.decoder = wav.NewDecoder(f.osFile)
		f.decoder.ReadInfo()
		if !f.decoder.IsValidFile() {
			return errors.New(nil).Component(ComponentWavfile).Category(errors.CategorySetup).
				Context("operation", "open").Context("path", f.path).Context("reason", "invalid wav header").Build()
		}
		f.channels = int(f.decoder.NumChans)
		f.sampleRate = int(f.decoder.SampleRate)
		f.bitDepth = int(f.decoder.BitDepth)
	} else {
		f.osFile, err = os.Create(f.path)
		if err != nil {
			return errors.New(err).Component(ComponentWavfile).Category(errors.CategorySetup).
				Context("operation", "create").Context("path", f.path).Build()
		}
		f.encoder = wav.NewEncoder(f.osFile, f.sampleRate, f.bitDepth, f.channels, 1)
	}
	f.opened.Store(true)
	return nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	if f.encoder != nil {
		if err := f.encoder.Close(); err != nil {
			return errors.New(err).Component(ComponentWavfile).Category(errors.CategoryOutput).
				Context("operation", "close").Context("path", f.path).Build()
		}
	}
	f.opened.Store(false)
	if f.osFile != nil {
		return f.osFile.Close()
	}
	return nil
}

// ReadBuffer decodes up to buf's capacity frames. At end of file, buf's
// length is shrunk to the number of frames actually read and Finished is
// set — it never returns an error for ordinary EOF.
func (f *File) ReadBuffer(buf audioio.Buffer) error {
	want := buf.Capacity()
	if f.bufFrames < want {
		want = f.bufFrames
	}
	pcm := &goaudio.IntBuffer{
		Data:   make([]int, want*f.channels),
		Format: &goaudio.Format{SampleRate: f.sampleRate, NumChannels: f.channels},
	}
	n, err := f.decoder.PCMBuffer(pcm)
	if err != nil {
		return errors.New(err).Component(ComponentWavfile).Category(errors.CategoryOutput).
			Context("operation", "read_buffer").Context("path", f.path).Build()
	}
	frames := n / f.channels
	buf.SetLength(frames)
	if frames == 0 {
		f.finished.Store(true)
		return nil
	}
	divisor := divisorForBitDepth(f.bitDepth)
	for c := 0; c < buf.Channels() && c < f.channels; c++ {
		plane := buf.Plane(c)
		for i := 0; i < frames; i++ {
			plane[i] = float64(pcm.Data[i*f.channels+c]) / divisor
		}
	}
	f.position.Add(int64(frames))
	if n < want*f.channels {
		f.finished.Store(true)
	}
	return nil
}

// WriteBuffer encodes buf's valid frames to the WAV stream.
func (f *File) WriteBuffer(buf audioio.Buffer) error {
	frames := buf.Length()
	divisor := divisorForBitDepth(f.bitDepth)
	pcm := &goaudio.IntBuffer{
		Data:   make([]int, frames*f.channels),
		Format: &goaudio.Format{SampleRate: f.sampleRate, NumChannels: f.channels},
	}
	for c := 0; c < buf.Channels() && c < f.channels; c++ {
		plane := buf.Plane(c)
		for i := 0; i < frames; i++ {
			pcm.Data[i*f.channels+c] = int(plane[i] * divisor)
		}
	}
	if err := f.encoder.Write(pcm); err != nil {
		return errors.New(err).Component(ComponentWavfile).Category(errors.CategoryOutput).
			Context("operation", "write_buffer").Context("path", f.path).Build()
	}
	f.position.Add(int64(frames))
	return nil
}

func divisorForBitDepth(bits int) float64 {
	switch bits {
	case 16:
		return 32768.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default:
		return 32768.0
	}
}
