package wgc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// --- in-memory transport, duplex byte queues so neither side reads back
// its own writes ---

type fakeTransport struct {
	mu    sync.Mutex
	pipes map[string]*fakePipe
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pipes: make(map[string]*fakePipe)}
}

type fakePipe struct {
	mu         sync.Mutex
	cond       *sync.Cond
	toServer   []byte
	toClient   []byte
	clientJoin chan struct{}
	joined     bool
	closed     bool
}

func newFakePipe() *fakePipe {
	p := &fakePipe{}
	p.cond = sync.NewCond(&p.mu)
	p.clientJoin = make(chan struct{})
	return p
}

func (t *fakeTransport) CreateServer(name string) (ipc.Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := newFakePipe()
	t.pipes[name] = p
	return &fakeEndpoint{pipe: p, role: ipc.RoleServer}, nil
}

func (t *fakeTransport) CreateClient(ctx context.Context, name string) (ipc.Endpoint, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		t.mu.Lock()
		p, ok := t.pipes[name]
		t.mu.Unlock()
		if ok {
			p.mu.Lock()
			if !p.joined {
				p.joined = true
				close(p.clientJoin)
			}
			p.mu.Unlock()
			return &fakeEndpoint{pipe: p, role: ipc.RoleClient}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return nil, errors.New("fake: no such pipe")
		}
	}
}

type fakeEndpoint struct {
	pipe *fakePipe
	role ipc.Role
}

func (e *fakeEndpoint) queues() (in, out *[]byte) {
	if e.role == ipc.RoleServer {
		return &e.pipe.toServer, &e.pipe.toClient
	}
	return &e.pipe.toClient, &e.pipe.toServer
}

func (e *fakeEndpoint) Send(b []byte, _ time.Duration) (bool, error) {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, errors.New("fake: closed")
	}
	_, out := e.queues()
	*out = append(*out, b...)
	p.cond.Broadcast()
	return true, nil
}

func (e *fakeEndpoint) Receive(buf []byte, timeout time.Duration) (int, ipc.ReceiveResult, error) {
	p := e.pipe
	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	in, _ := e.queues()
	for len(*in) == 0 && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ipc.ReceiveTimeout, nil
		}
		go func() { time.Sleep(remaining); p.cond.Broadcast() }()
		p.cond.Wait()
	}
	if p.closed && len(*in) == 0 {
		return 0, ipc.ReceiveBrokenPipe, nil
	}
	n := copy(buf, *in)
	*in = (*in)[n:]
	return n, ipc.ReceiveSuccess, nil
}

func (e *fakeEndpoint) WaitForClientConnection(timeout time.Duration) error {
	select {
	case <-e.pipe.clientJoin:
		return nil
	case <-time.After(timeout):
		return errors.New("fake: timed out waiting for client")
	}
}

func (e *fakeEndpoint) Disconnect() error {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (e *fakeEndpoint) IsConnected() bool {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined && !p.closed
}

// --- fake capture source and shared surface ---

type fakeSource struct {
	closed atomic.Bool
}

func (s *fakeSource) Close() { s.closed.Store(true) }

type fakeSurface struct {
	mu       sync.Mutex
	acquires []uint64
	releases []uint64
	copies   int
	copyErr  error
	closed   bool
}

func (s *fakeSurface) AcquireSync(key uint64, _ time.Duration) (MutexWaitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires = append(s.acquires, key)
	return MutexAcquired, nil
}

func (s *fakeSurface) ReleaseSync(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, key)
	return nil
}

func (s *fakeSurface) CopyFrame(GPUSurface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copies++
	return s.copyErr
}

func (s *fakeSurface) SharedHandle() (uint64, error) { return 0xFEED, nil }

func (s *fakeSurface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func TestHelperRunPublishesHandleAndFrames(t *testing.T) {
	transport := newFakeTransport()
	const parentPID = 777

	source := &fakeSource{}
	surface := &fakeSurface{}
	var onFrame atomic.Value // func(src GPUSurface)

	cfg := Config{
		ParentPID: parentPID,
		Transport: transport,
		OpenCapture: func(hc ipc.HelperConfig, cb func(src GPUSurface)) (FrameSource, uint32, uint32, error) {
			assert.Equal(t, `\\.\DISPLAY1`, hc.DisplayName)
			assert.Equal(t, uint32(7), hc.AdapterLUID.Low)
			onFrame.Store(cb)
			return source, 2560, 1440, nil
		},
		NewSharedSurface: func(FrameSource, uint32, uint32) (SharedSurface, error) {
			return surface, nil
		},
		QPCNow: func() uint64 { return 0x1122334455667788 },
	}
	h := New(cfg, discardLogger())

	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(context.Background()) }()

	log := discardLogger()
	hostEp, err := ipc.RunHostHandshake(context.Background(), transport, parentPID, log)
	require.NoError(t, err)

	cfgMsg, err := ipc.EncodeHelperConfig(ipc.HelperConfig{
		DisplayName: `\\.\DISPLAY1`,
		AdapterLUID: ipc.AdapterLUID{Low: 7},
	})
	require.NoError(t, err)
	ok, err := hostEp.Send(cfgMsg, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	buf := make([]byte, 64)
	n, result, err := hostEp.Receive(buf, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, ipc.ReceiveSuccess, result)

	shd, err := ipc.DecodeSharedHandleData(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFEED), shd.TextureHandle)
	assert.Equal(t, uint32(2560), shd.Width)
	assert.Equal(t, uint32(1440), shd.Height)

	// Simulate a WGC frame delivery and check the writer-side protocol:
	// acquire key 0, one copy, release key 1, then a frame-ready message
	// stamped with the fake QPC.
	require.Eventually(t, func() bool { return onFrame.Load() != nil }, time.Second, 5*time.Millisecond)
	onFrame.Load().(func(src GPUSurface))("frame")

	n, result, err = hostEp.Receive(buf, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, ipc.ReceiveSuccess, result)
	require.Equal(t, 1+ipc.FrameReadyQPCSize, n)
	require.Equal(t, ipc.MsgFrameReady, buf[0])
	qpc, okQPC := ipc.DecodeFrameReadyQPC(buf[1:n])
	require.True(t, okQPC)
	assert.Equal(t, uint64(0x1122334455667788), qpc)

	surface.mu.Lock()
	assert.Equal(t, []uint64{0}, surface.acquires)
	assert.Equal(t, []uint64{1}, surface.releases)
	assert.Equal(t, 1, surface.copies)
	surface.mu.Unlock()

	// Host going away ends the helper cleanly.
	require.NoError(t, hostEp.Disconnect())
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("helper did not exit after host disconnect")
	}

	assert.True(t, source.closed.Load())
	surface.mu.Lock()
	assert.True(t, surface.closed)
	surface.mu.Unlock()
}

func TestHandleFrameSkipsFrameReadyOnCopyFailure(t *testing.T) {
	pipe := newFakePipe()
	helperEp := &fakeEndpoint{pipe: pipe, role: ipc.RoleClient}
	hostEp := &fakeEndpoint{pipe: pipe, role: ipc.RoleServer}

	surface := &fakeSurface{copyErr: errors.New("device removed")}
	h := New(Config{QPCNow: func() uint64 { return 42 }}, discardLogger())
	h.surface = surface
	h.loop = ipc.NewAsyncLoop(helperEp, discardLogger())

	h.handleFrame("frame")

	// The mutex discipline still ran so the host is never wedged, but the
	// stale surface was not advertised as a fresh frame.
	surface.mu.Lock()
	assert.Equal(t, []uint64{0}, surface.acquires)
	assert.Equal(t, []uint64{1}, surface.releases)
	surface.mu.Unlock()

	buf := make([]byte, 16)
	_, result, err := hostEp.Receive(buf, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ipc.ReceiveTimeout, result)
}

func TestHelperRunFailsWithoutHost(t *testing.T) {
	h := New(Config{ParentPID: 54321, Transport: newFakeTransport()}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := h.Run(ctx)
	require.Error(t, err)
}

func TestHelperRunCancelledBeforeConfig(t *testing.T) {
	transport := newFakeTransport()
	const parentPID = 888

	h := New(Config{
		ParentPID: parentPID,
		Transport: transport,
		OpenCapture: func(ipc.HelperConfig, func(src GPUSurface)) (FrameSource, uint32, uint32, error) {
			t.Error("capture must not open without a config")
			return nil, 0, 0, errors.New("unexpected open")
		},
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	hostEp, err := ipc.RunHostHandshake(context.Background(), transport, parentPID, discardLogger())
	require.NoError(t, err)
	defer hostEp.Disconnect()

	cancel()
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("helper did not exit on context cancel")
	}
}

// --- heartbeat watchdog ---

type fakeClock struct {
	nanos atomic.Int64
}

func (c *fakeClock) now() time.Time          { return time.Unix(0, c.nanos.Load()) }
func (c *fakeClock) advance(d time.Duration) { c.nanos.Add(int64(d)) }

func TestHeartbeatWatchdogFiresAfterSilence(t *testing.T) {
	clock := &fakeClock{}
	w := newHeartbeatWatchdog(clock.now)
	defer w.Stop()

	fired := make(chan struct{})
	w.Start(func() { close(fired) })

	clock.advance(HeartbeatTimeout + time.Second)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}
}

func TestHeartbeatWatchdogTouchDefersTimeout(t *testing.T) {
	clock := &fakeClock{}
	w := newHeartbeatWatchdog(clock.now)
	defer w.Stop()

	var fired atomic.Bool
	w.Start(func() { fired.Store(true) })

	// Keep touching just inside the deadline; the watchdog must stay quiet.
	for i := 0; i < 4; i++ {
		clock.advance(HeartbeatTimeout - time.Second)
		w.Touch()
	}
	time.Sleep(2 * heartbeatCheckInterval)
	assert.False(t, fired.Load())
}
