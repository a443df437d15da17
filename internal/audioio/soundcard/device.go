// Package soundcard implements audioio.Object/RealtimeObject on top of
// malgo, giving the engine a cross-platform realtime capture and playback
// backend.
package soundcard

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/gen2brain/malgo"
)

// ComponentSoundcard identifies errors raised by this package.
const ComponentSoundcard = "audioio.soundcard"

// Config selects the device and format a Device opens.
type Config struct {
	DeviceName   string
	Channels     int
	SampleRate   int
	BufferFrames int // frames per malgo callback, also PrefillSpace's unit
}

// Device is a realtime audioio.Object backed by a malgo capture or
// playback stream. Samples cross the malgo callback boundary as
// interleaved int16 frames and are converted to/from the engine's planar
// float64 Buffer at the ReadBuffer/WriteBuffer boundary.
type Device struct {
	label  string
	mode   audioio.Mode
	cfg    Config

	mallocCtx *malgo.AllocatedContext
	device    *malgo.Device

	mu      sync.Mutex
	queue   [][]int16 // pending interleaved frames, one slice per callback
	running atomic.Bool
	opened  atomic.Bool
	finished atomic.Bool

	position atomic.Int64
	cond     *sync.Cond
}

var _ audioio.Object = (*Device)(nil)
var _ audioio.RealtimeObject = (*Device)(nil)
var _ audioio.Reader = (*Device)(nil)
var _ audioio.Writer = (*Device)(nil)

// New creates a Device for the given mode (ModeRead for capture, ModeWrite
// for playback; ModeReadWrite is not supported by a single malgo device).
func New(label string, mode audioio.Mode, cfg Config) *Device {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.BufferFrames == 0 {
		cfg.BufferFrames = 512
	}
	d := &Device{label: label, mode: mode, cfg: cfg}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *Device) Label() string         { return d.label }
func (d *Device) Mode() audioio.Mode    { return d.mode }
func (d *Device) Channels() int         { return d.cfg.Channels }
func (d *Device) SampleRate() int       { return d.cfg.SampleRate }
func (d *Device) FrameSizeBytes() int   { return d.cfg.Channels * 2 }
func (d *Device) IsRealtime() bool      { return true }
func (d *Device) LockedAudioFormat() bool { return d.opened.Load() }
func (d *Device) IsOpen() bool           { return d.opened.Load() }
func (d *Device) IsRunning() bool        { return d.running.Load() }
func (d *Device) Finished() bool         { return d.finished.Load() }
func (d *Device) PositionInSamples() int64 { return d.position.Load() }

// Latency reports one callback period's worth of samples, the minimum
// achievable I/O latency for a malgo device at this buffer size.
func (d *Device) Latency() int { return d.cfg.BufferFrames }

// PrefillSpace reports how many silent frames may be queued before Start
// without blocking: one full callback buffer, matching the device's
// internal double-buffering.
func (d *Device) PrefillSpace() int { return d.cfg.BufferFrames }

// Open initializes the malgo context and device, but does not start I/O.
func (d *Device) Open(ctx context.Context) error {
	backend := platformBackend()
	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component(ComponentSoundcard).
			Category(errors.CategorySetup).
			Context("operation", "init_context").
			Context("label", d.label).
			Build()
	}
	d.mallocCtx = mctx

	deviceType := malgo.Capture
	if d.mode == audioio.ModeWrite {
		deviceType = malgo.Playback
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(d.cfg.BufferFrames)
	if d.mode == audioio.ModeWrite {
		deviceConfig.Playback.Format = malgo.FormatS16
		deviceConfig.Playback.Channels = uint32(d.cfg.Channels)
	} else {
		deviceConfig.Capture.Format = malgo.FormatS16
		deviceConfig.Capture.Channels = uint32(d.cfg.Channels)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return errors.New(err).
			Component(ComponentSoundcard).
			Category(errors.CategorySetup).
			Context("operation", "init_device").
			Context("label", d.label).
			Build()
	}
	d.device = dev
	d.opened.Store(true)
	return nil
}

// Prepare is a no-op for malgo devices: InitDevice already allocated the
// backend's internal buffers, so there is nothing left to warm up.
func (d *Device) Prepare(ctx context.Context) error { return nil }

// Start begins the callback-driven I/O stream.
func (d *Device) Start() error {
	if d.device == nil {
		return errors.New(nil).
			Component(ComponentSoundcard).
			Category(errors.CategoryProtocol).
			Context("operation", "start").
			Context("reason", "not opened").
			Build()
	}
	if err := d.device.Start(); err != nil {
		return errors.New(err).
			Component(ComponentSoundcard).
			Category(errors.CategorySetup).
			Context("operation", "start").
			Build()
	}
	d.running.Store(true)
	return nil
}

// Stop halts the callback-driven I/O stream; the device may be Started again.
func (d *Device) Stop() error {
	if d.device == nil {
		return nil
	}
	if err := d.device.Stop(); err != nil {
		return errors.New(err).
			Component(ComponentSoundcard).
			Category(errors.CategoryOutput).
			Context("operation", "stop").
			Build()
	}
	d.running.Store(false)
	d.cond.Broadcast()
	return nil
}

// Close tears down the device and its malgo context.
func (d *Device) Close() error {
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.mallocCtx != nil {
		_ = d.mallocCtx.Uninit()
		d.mallocCtx = nil
	}
	d.opened.Store(false)
	d.running.Store(false)
	return nil
}

// ReadBuffer deinterleaves the oldest queued capture callback into buf,
// blocking until a callback has arrived. It never errors in steady state;
// a closed/stopped device sets Finished and shrinks buf's length to zero.
func (d *Device) ReadBuffer(buf audioio.Buffer) error {
	d.mu.Lock()
	for len(d.queue) == 0 && d.running.Load() {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		d.mu.Unlock()
		buf.SetLength(0)
		d.finished.Store(true)
		return nil
	}
	frame := d.queue[0]
	d.queue = d.queue[1:]
	d.mu.Unlock()

	frames := len(frame) / d.cfg.Channels
	if frames > buf.Capacity() {
		frames = buf.Capacity()
	}
	buf.SetLength(frames)
	for c := 0; c < buf.Channels() && c < d.cfg.Channels; c++ {
		plane := buf.Plane(c)
		for i := 0; i < frames; i++ {
			plane[i] = float64(frame[i*d.cfg.Channels+c]) / 32768.0
		}
	}
	d.position.Add(int64(frames))
	return nil
}

// WriteBuffer interleaves buf to int16 and enqueues it for the playback
// callback to consume.
func (d *Device) WriteBuffer(buf audioio.Buffer) error {
	frames := buf.Length()
	interleaved := make([]int16, frames*d.cfg.Channels)
	for c := 0; c < buf.Channels() && c < d.cfg.Channels; c++ {
		plane := buf.Plane(c)
		for i := 0; i < frames; i++ {
			interleaved[i*d.cfg.Channels+c] = clampS16(plane[i])
		}
	}
	d.mu.Lock()
	d.queue = append(d.queue, interleaved)
	d.mu.Unlock()
	d.cond.Broadcast()
	d.position.Add(int64(frames))
	return nil
}

func clampS16(v float64) int16 {
	s := v * 32768.0
	switch {
	case s > 32767:
		return 32767
	case s < -32768:
		return -32768
	default:
		return int16(s)
	}
}

// onData is malgo's capture/playback callback. For capture it queues the
// deinterleaved-on-read int16 frame; for playback it drains one queued
// frame into pOutputSamples, or silence if the queue is empty (underrun).
func (d *Device) onData(pOutputSamples, pInputSamples []byte, frameCount uint32) {
	if d.mode == audioio.ModeRead {
		frame := make([]int16, int(frameCount)*d.cfg.Channels)
		for i := range frame {
			if 2*i+1 < len(pInputSamples) {
				frame[i] = int16(pInputSamples[2*i]) | int16(pInputSamples[2*i+1])<<8
			}
		}
		d.mu.Lock()
		d.queue = append(d.queue, frame)
		d.mu.Unlock()
		d.cond.Broadcast()
		return
	}

	d.mu.Lock()
	var frame []int16
	if len(d.queue) > 0 {
		frame = d.queue[0]
		d.queue = d.queue[1:]
	}
	d.mu.Unlock()
	d.cond.Broadcast()

	for i := 0; i < len(pOutputSamples)/2; i++ {
		var s int16
		if i < len(frame) {
			s = frame[i]
		}
		pOutputSamples[2*i] = byte(s)
		pOutputSamples[2*i+1] = byte(s >> 8)
	}
}

func (d *Device) onStop() {
	d.running.Store(false)
	d.finished.Store(true)
	d.cond.Broadcast()
}

func platformBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}
