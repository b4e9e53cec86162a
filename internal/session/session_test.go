package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
	"github.com/lizardbyte/sunshine-wgc/internal/procutil"
	"github.com/lizardbyte/sunshine-wgc/internal/session"
)

// fakeHelper satisfies session.HelperLauncher without spawning a process;
// it drives a real in-memory helper-side handshake/frame loop on Start so
// the session's state machine can be exercised end-to-end on any platform.
type fakeHelper struct {
	transport *fakeTransport
	parentPID int
	stopCh    chan struct{}
	injectCh  chan byte
	wg        sync.WaitGroup
}

func (h *fakeHelper) Start(procutil.Config) error {
	h.stopCh = make(chan struct{})
	h.injectCh = make(chan byte, 8)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		runFakeHelperSide(h.transport, h.parentPID, h.stopCh, h.injectCh)
	}()
	return nil
}

func (h *fakeHelper) Terminate() {
	if h.stopCh != nil {
		close(h.stopCh)
	}
}

func (h *fakeHelper) Close() { h.wg.Wait() }

// inject queues a byte (e.g. the secure-desktop signal) to be sent from
// the helper side on its next loop tick, simulating the desktop-switch
// hook firing asynchronously.
func (h *fakeHelper) inject(b byte) { h.injectCh <- b }

// runFakeHelperSide plays the helper's half of the handshake and protocol:
// connect, send SharedHandleData, then stream frame-ready bytes (plus any
// injected signal bytes) until told to stop.
func runFakeHelperSide(t *fakeTransport, parentPID int, stop <-chan struct{}, inject <-chan byte) {
	log := logrus.NewEntry(logrus.New())
	ep, err := ipc.RunHelperHandshake(context.Background(), t, parentPID, log)
	if err != nil {
		return
	}
	defer ep.Disconnect()

	buf := make([]byte, 256)
	n, _, err := ep.Receive(buf, 2*time.Second)
	if err != nil || n == 0 {
		return
	}

	shd := ipc.EncodeSharedHandleData(ipc.SharedHandleData{TextureHandle: 0xABCD, Width: 1920, Height: 1080})
	if ok, _ := ep.Send(shd, time.Second); !ok {
		return
	}

	for {
		select {
		case <-stop:
			return
		case b := <-inject:
			ep.Send([]byte{b}, 200*time.Millisecond)
			continue
		default:
		}
		ep.Send([]byte{ipc.MsgFrameReady}, 200*time.Millisecond)
		select {
		case <-stop:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakeMutex struct {
	mu        sync.Mutex
	abandoned bool
}

func (m *fakeMutex) AcquireSync(key uint64, _ time.Duration) (session.MutexWaitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.abandoned {
		return session.MutexAbandoned, nil
	}
	return session.MutexAcquired, nil
}

func (m *fakeMutex) ReleaseSync(key uint64) error { return nil }

func newTestSession(t *testing.T, mutex *fakeMutex) (*session.Session, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	helper := &fakeHelper{transport: transport, parentPID: 4242}

	openCalled := false
	cfg := session.Config{
		ParentPID:   4242,
		HelperExe:   "wgc-helper.exe",
		DisplayName: "\\\\.\\DISPLAY1",
		AdapterLUID: ipc.AdapterLUID{Low: 1, High: 0},
		Transport:   transport,
		Helper:      helper,
		OpenTexture: func(handle uint64, width, height uint32) (session.KeyedMutex, session.GPUTexture, error) {
			openCalled = true
			require.Equal(t, uint64(0xABCD), handle)
			require.Equal(t, uint32(1920), width)
			require.Equal(t, uint32(1080), height)
			return mutex, "fake-texture", nil
		},
	}
	s := session.New(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, s.EnsureInitialised(context.Background()))
	require.True(t, openCalled)
	return s, transport
}

func TestSessionHappyPath(t *testing.T) {
	mutex := &fakeMutex{}
	s, _ := newTestSession(t, mutex)
	defer s.Cleanup()

	require.True(t, s.IsInitialised())
	require.Equal(t, uint32(1920), s.Width())
	require.Equal(t, uint32(1080), s.Height())

	for i := 0; i < 10; i++ {
		tex, result, err := s.Acquire(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, session.AcquireOK, result)
		require.Equal(t, "fake-texture", tex)
		s.Release()
	}

	require.False(t, s.ShouldReinit())
	require.False(t, s.ShouldSwapToDXGI())
}

func TestSessionAbandonedMutexForcesReinitNotSwap(t *testing.T) {
	mutex := &fakeMutex{}
	s, _ := newTestSession(t, mutex)
	defer s.Cleanup()

	_, _, err := s.Acquire(2 * time.Second)
	require.NoError(t, err)
	s.Release()

	mutex.mu.Lock()
	mutex.abandoned = true
	mutex.mu.Unlock()

	_, result, err := s.Acquire(2 * time.Second)
	require.Error(t, err)
	require.Equal(t, session.AcquireFailed, result)
	require.True(t, s.ShouldReinit())
	require.False(t, s.ShouldSwapToDXGI())
}

func TestSessionSecureDesktopSignalSetsSwapFlag(t *testing.T) {
	mutex := &fakeMutex{}
	transport := newFakeTransport()
	helper := &fakeHelper{transport: transport, parentPID: 99}
	cfg := session.Config{
		ParentPID:   99,
		HelperExe:   "wgc-helper.exe",
		AdapterLUID: ipc.AdapterLUID{Low: 1},
		Transport:   transport,
		Helper:      helper,
		OpenTexture: func(handle uint64, w, h uint32) (session.KeyedMutex, session.GPUTexture, error) {
			return mutex, "tex", nil
		},
	}
	s := session.New(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, s.EnsureInitialised(context.Background()))
	defer s.Cleanup()

	_, _, err := s.Acquire(2 * time.Second)
	require.NoError(t, err)
	s.Release()

	// Simulate the helper's desktop-switch hook firing independently of the
	// frame-ready loop.
	helper.inject(ipc.MsgSecureDesktop)

	require.Eventually(t, s.ShouldSwapToDXGI, time.Second, 5*time.Millisecond)
}