// Package proxy turns blocking audioio.Objects into non-blocking ones by
// interposing a ring buffer and a single background worker per server,
// mirroring the original engine's audioio-proxy-server design: one
// io_thread sweeps every registered client round-robin, sleeping for one
// millisecond after a sweep that did no work. The worker does not wait on
// a condition variable.
package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"
)

// ComponentProxy identifies errors raised by this package.
const ComponentProxy = "proxy"

const bytesPerSample = 8 // float64

// Server interposes ring buffers between the engine and one or more
// underlying (blocking) audioio.Objects.
type Server struct {
	mu      sync.Mutex
	dataCond  *sync.Cond
	fullCond  *sync.Cond
	stopCond  *sync.Cond
	flushCond *sync.Cond

	clients map[*Client]struct{}

	bufferCount int
	bufferSize  int
	priority    int

	running     atomic.Bool
	exitRequest atomic.Bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Client is one proxied audioio.Object: the engine reads/writes through
// its ReadBuffer/WriteBuffer methods while the server's worker copies between the
// ring and the real object in the background.
type Client struct {
	server *Server
	real   audioio.Object
	ring   *ringbuffer.RingBuffer
	channels int

	full     atomic.Bool
	finished atomic.Bool
}

// NewServer creates a Server with default buffer sizing (caller should
// call SetBufferDefaults before Start if different sizing is wanted).
func NewServer() *Server {
	s := &Server{
		clients:     make(map[*Client]struct{}),
		bufferCount: 4,
		bufferSize:  2048,
	}
	s.dataCond = sync.NewCond(&s.mu)
	s.fullCond = sync.NewCond(&s.mu)
	s.stopCond = sync.NewCond(&s.mu)
	s.flushCond = sync.NewCond(&s.mu)
	return s
}

// SetBufferDefaults configures the ring size (in frames) used for clients
// registered afterward.
func (s *Server) SetBufferDefaults(bufferCount, bufferSize int) {
	s.mu.Lock()
	s.bufferCount = bufferCount
	s.bufferSize = bufferSize
	s.mu.Unlock()
}

// SetSchedPriority records a real-time scheduling priority for the worker.
// The value is stored only: Start neither applies nor logs it (Go has no
// portable equivalent of pthread_setschedparam).
func (s *Server) SetSchedPriority(p int) {
	s.mu.Lock()
	s.priority = p
	s.mu.Unlock()
}

// RegisterClient wraps obj in a ring buffer and returns the proxied
// object the engine should read/write through. Must be called before
// Start.
func (s *Server) RegisterClient(obj audioio.Object) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := obj.Channels()
	ringBytes := s.bufferCount * s.bufferSize * channels * bytesPerSample
	c := &Client{
		server:   s,
		real:     obj,
		ring:     ringbuffer.New(ringBytes),
		channels: channels,
	}
	s.clients[c] = struct{}{}
	return c
}

// UnregisterClient removes c from the sweep set.
func (s *Server) UnregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Start launches the single background worker goroutine.
func (s *Server) Start() error {
	if s.running.Load() {
		return errors.New(nil).Component(ComponentProxy).Category(errors.CategoryProtocol).
			Context("operation", "start").Context("reason", "already running").Build()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.exitRequest.Store(false)
	s.running.Store(true)

	g.Go(func() error {
		s.ioThread(gctx)
		return nil
	})
	return nil
}

// Stop requests the worker to exit and waits for it to acknowledge,
// matching the original's "stop waits until the worker observes the latch
// and signals" contract.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.mu.Lock()
	s.exitRequest.Store(true)
	s.dataCond.Broadcast()
	s.fullCond.Broadcast()
	for s.running.Load() {
		s.stopCond.Wait()
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

// Flush blocks until every write-mode client's ring has drained to its
// underlying object.
func (s *Server) Flush() {
	s.mu.Lock()
	for !s.allWriteRingsEmptyLocked() {
		s.flushCond.Wait()
	}
	s.mu.Unlock()
}

func (s *Server) allWriteRingsEmptyLocked() bool {
	for c := range s.clients {
		if c.real.Mode() != audioio.ModeRead && c.ring.Length() > 0 {
			return false
		}
	}
	return true
}

// IsRunning reports whether the worker goroutine is active.
func (s *Server) IsRunning() bool { return s.running.Load() }

// IsFull reports whether any registered client's ring is currently full.
func (s *Server) IsFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c.full.Load() {
			return true
		}
	}
	return false
}

// WaitForData blocks until at least one read-mode client's ring is
// non-empty.
func (s *Server) WaitForData() {
	s.mu.Lock()
	for !s.anyReadRingHasDataLocked() && !s.exitRequest.Load() {
		s.dataCond.Wait()
	}
	s.mu.Unlock()
}

func (s *Server) anyReadRingHasDataLocked() bool {
	for c := range s.clients {
		if c.real.Mode() == audioio.ModeRead && c.ring.Length() > 0 {
			return true
		}
	}
	return false
}

// WaitForFull blocks until IsFull() becomes true.
func (s *Server) WaitForFull() {
	s.mu.Lock()
	for !s.anyFullLocked() && !s.exitRequest.Load() {
		s.fullCond.Wait()
	}
	s.mu.Unlock()
}

func (s *Server) anyFullLocked() bool {
	for c := range s.clients {
		if c.full.Load() {
			return true
		}
	}
	return false
}

// WaitForStop blocks until the worker has exited.
func (s *Server) WaitForStop() {
	s.mu.Lock()
	for s.running.Load() {
		s.stopCond.Wait()
	}
	s.mu.Unlock()
}

// WaitForFlush is an alias of Flush kept for naming parity.
func (s *Server) WaitForFlush() { s.Flush() }

// ioThread is the sole background worker: it sweeps every client
// round-robin, copying between each client's ring and its underlying
// object, then broadcasts dataCond/fullCond/flushCond; after a sweep that
// did no work it sleeps for one millisecond rather than waiting on a cond.
// The exit latch (exitRequest) is polled once per sweep, exactly
// mirroring the original's boolean-latch exit protocol.
func (s *Server) ioThread(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running.Store(false)
		s.stopCond.Broadcast()
		s.mu.Unlock()
	}()

	for {
		if s.exitRequest.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		didWork := false
		s.mu.Lock()
		clients := make([]*Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()

		for _, c := range clients {
			if c.real.Mode() == audioio.ModeRead {
				if s.serviceReadClient(c) {
					didWork = true
				}
			} else {
				if s.serviceWriteClient(c) {
					didWork = true
				}
			}
		}

		s.mu.Lock()
		s.dataCond.Broadcast()
		s.fullCond.Broadcast()
		s.flushCond.Broadcast()
		s.mu.Unlock()

		if !didWork {
			time.Sleep(time.Millisecond)
		}
	}
}

// serviceReadClient pulls one chunk from the underlying real object into
// the ring, if there is free space.
func (s *Server) serviceReadClient(c *Client) bool {
	free := c.ring.Free()
	if free < s.bufferSize*c.channels*bytesPerSample {
		c.full.Store(true)
		return false
	}
	c.full.Store(false)

	reader, ok := c.real.(audioio.Reader)
	if !ok {
		return false
	}
	buf := newScratchBuffer(s.bufferSize, c.channels)
	if err := reader.ReadBuffer(buf); err != nil {
		return false
	}
	if buf.Length() == 0 {
		c.finished.Store(true)
		return false
	}
	encoded := encodeBuffer(buf)
	_, _ = c.ring.Write(encoded)
	return true
}

// serviceWriteClient drains one chunk from the ring to the underlying
// real object, if there is data queued.
func (s *Server) serviceWriteClient(c *Client) bool {
	frameBytes := c.channels * bytesPerSample
	avail := c.ring.Length()
	if avail < frameBytes {
		return false
	}
	frames := avail / frameBytes
	if frames > s.bufferSize {
		frames = s.bufferSize
	}
	chunk := make([]byte, frames*frameBytes)
	n, _ := c.ring.Read(chunk)
	chunk = chunk[:n]

	writer, ok := c.real.(audioio.Writer)
	if !ok {
		return false
	}
	buf := decodeBuffer(chunk, c.channels)
	if err := writer.WriteBuffer(buf); err != nil {
		return false
	}
	return true
}
