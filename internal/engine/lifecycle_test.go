package engine

import (
	"context"
	"testing"
	"time"

	"github.com/antorsae/ecasound/internal/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrepareOperationDrivesAttachedProxyServer verifies that an engine
// with a proxy.Server attached via SetProxyServer actually starts it
// during prepare_operation and stops it during stop_operation, instead
// of the server sitting unused because nothing ever wired it in.
func TestPrepareOperationDrivesAttachedProxyServer(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)

	// A read-mode client with enough queued frames to fill its ring, so
	// prepare_operation's wait_for_full actually observes something and
	// returns instead of blocking on a server nobody ever fills.
	proxied := newFakeReader("proxied-in", 1, [][]float64{{1}, {1}, {1}, {1}})
	proxied.SetBufferSize(2048)

	p := proxy.NewServer()
	p.RegisterClient(proxied)
	e.SetProxyServer(p)
	assert.True(t, e.HasProxyServer())

	require.NoError(t, e.PrepareOperation(context.Background()))
	assert.True(t, p.IsRunning())
	assert.True(t, p.IsFull())

	require.NoError(t, e.StopOperation())
	assert.False(t, p.IsRunning())
}

// TestWaitForStopReturnsOnContextCancellation verifies that WaitForStop
// (and by extension the shared waitOn helper) gives up promptly when ctx
// is cancelled instead of leaving its internal goroutine blocked forever.
func TestWaitForStopReturnsOnContextCancellation(t *testing.T) {
	in := newFakeReader("in", 1, make([][]float64, 10))
	out := newFakeWriter("out", 1)
	cs := newTestChainsetup(4, in, out)
	e := newTestEngine(cs)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	satisfied := e.WaitForStop(ctx)
	assert.False(t, satisfied)
}
