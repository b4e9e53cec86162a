// Package session implements the host-side shared-surface session: it
// drives the helper-config handshake, opens the shared keyed-mutex texture
// once the helper publishes its handle, and exposes the encoder-facing
// blocking acquire/release protocol.
//
// The keyed-mutex and GPU-texture operations are abstracted behind the
// KeyedMutex interface and the opaque GPUTexture type so this file's state
// machine can be unit tested on any platform against a fake; only
// session_windows.go (built with GOOS=windows) wires the real D3D11
// implementation in internal/d3d11.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
	"github.com/lizardbyte/sunshine-wgc/internal/procutil"
)

// State tracks the session's lifecycle from first launch to teardown.
type State int

const (
	StateUninitialised State = iota
	StateLaunching
	StateHandshakeWaitingForHandle
	StateRunning
	StateDraining
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "Uninitialised"
	case StateLaunching:
		return "Launching"
	case StateHandshakeWaitingForHandle:
		return "HandshakeWaitingForHandle"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	default:
		return "Terminal"
	}
}

// AcquireResult is returned by Session.Acquire.
type AcquireResult int

const (
	AcquireOK AcquireResult = iota
	AcquireTimeout
	AcquireFailed
)

// MutexWaitOutcome names the three outcomes of a keyed-mutex AcquireSync
// call that the session must react to differently.
type MutexWaitOutcome int

const (
	MutexAcquired MutexWaitOutcome = iota
	MutexTimedOut
	MutexAbandoned
)

// GPUTexture is an opaque handle to the shared texture, as seen by the
// encoder. The session never inspects it; on Windows it is a
// *internal/d3d11.Texture2D.
type GPUTexture interface{}

// KeyedMutex is the minimal keyed-mutex surface the session drives: two
// calls, AcquireSync and ReleaseSync, exactly mirroring IDXGIKeyedMutex.
type KeyedMutex interface {
	AcquireSync(key uint64, timeout time.Duration) (MutexWaitOutcome, error)
	ReleaseSync(key uint64) error
}

// Keyed-mutex key assignments: the helper only ever acquires 0 and
// releases 1; the host only ever acquires 1 and releases 2.
const (
	hostAcquireKey = 1
	hostReleaseKey = 2
)

// acquireMutexTimeout bounds a single AcquireSync call.
const acquireMutexTimeout = 200 * time.Millisecond

// frameReadyPollInterval is how often Acquire polls the frame-ready flag
// while waiting for the caller's deadline.
const frameReadyPollInterval = time.Millisecond

// handleReceiveTimeout bounds how long lazy init waits for the helper to
// publish SharedHandleData.
const handleReceiveTimeout = 3 * time.Second

// telemetryInterval emits one timing-diagnostics line every N acquires.
const telemetryInterval = 150

// HelperLauncher is the subset of *procutil.HelperProcess the session
// drives; abstracted so the state machine can be unit tested on any
// platform against a fake that never actually spawns a process.
type HelperLauncher interface {
	Start(procutil.Config) error
	Terminate()
	Close()
}

// OpenTextureFunc opens the shared texture named by a SharedHandleData
// record into this process, returning its keyed-mutex face and an opaque
// GPU texture handle for the encoder. Production code (session_windows.go)
// implements this with internal/d3d11; tests inject a fake.
type OpenTextureFunc func(handle uint64, width, height uint32) (KeyedMutex, GPUTexture, error)

// Config configures a Session instance.
type Config struct {
	ParentPID    int
	HelperExe    string
	HelperArgs   []string
	DisplayName  string
	DynamicRange int32
	LogLevel     int32
	AdapterLUID  ipc.AdapterLUID
	Transport    ipc.Transport
	OpenTexture  OpenTextureFunc
	// Helper overrides the default *procutil.HelperProcess launcher; nil
	// means use the real one. Tests inject a fake here.
	Helper HelperLauncher
}

// Session is the host-side shared-surface session.
type Session struct {
	log    *logrus.Entry
	cfg    Config
	helper HelperLauncher

	ep   ipc.Endpoint
	loop *ipc.AsyncLoop

	state atomic.Int32

	frameReady       atomic.Bool
	shouldSwapToDXGI atomic.Bool
	forceReinit      atomic.Bool
	frameQPC         atomic.Uint64

	mutex   KeyedMutex
	texture GPUTexture
	width   uint32
	height  uint32

	acquireCount   atomic.Uint64
	lastAcquireQPC atomic.Uint64
}

// New constructs an unstarted Session.
func New(cfg Config, log *logrus.Entry) *Session {
	helper := cfg.Helper
	if helper == nil {
		helper = procutil.NewHelperProcess(log)
	}
	s := &Session{
		cfg:    cfg,
		log:    log.WithField("component", "session"),
		helper: helper,
	}
	s.state.Store(int32(StateUninitialised))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// IsInitialised reports whether the shared texture has been opened and the
// session is ready to serve Acquire calls.
func (s *Session) IsInitialised() bool { return s.State() == StateRunning }

// ShouldSwapToDXGI reports whether a secure-desktop signal requires the
// outer capture loop to fall back to DXGI.
func (s *Session) ShouldSwapToDXGI() bool { return s.shouldSwapToDXGI.Load() }

// ShouldReinit reports whether the session must be torn down and rebuilt:
// set on broken pipe, on WAIT_ABANDONED, or on unrecoverable transport
// errors.
func (s *Session) ShouldReinit() bool {
	return s.forceReinit.Load() || s.State() == StateDraining
}

// EnsureInitialised performs the lazy initialisation sequence: spawn the
// helper if not already running, complete the handshake, send
// HelperConfig, and wait for SharedHandleData. Failures are logged at
// debug (service sessions legitimately fail here, e.g. no interactive
// user) and leave IsInitialised() false rather than returning upward as a
// fatal error.
func (s *Session) EnsureInitialised(ctx context.Context) error {
	if s.IsInitialised() {
		return nil
	}
	s.setState(StateLaunching)

	if err := s.helper.Start(procutil.Config{ExePath: s.cfg.HelperExe, Args: s.cfg.HelperArgs}); err != nil && !errors.Is(err, procutil.ErrAlreadyRunning) {
		s.log.WithError(err).Debug("session: failed to start helper (expected without an interactive session)")
		s.setState(StateDraining)
		return err
	}

	ep, err := ipc.RunHostHandshake(ctx, s.cfg.Transport, s.cfg.ParentPID, s.log)
	if err != nil {
		s.log.WithError(err).Debug("session: handshake failed")
		s.teardownHelper()
		s.setState(StateDraining)
		return err
	}
	s.ep = ep

	cfgMsg, err := ipc.EncodeHelperConfig(ipc.HelperConfig{
		DynamicRange: s.cfg.DynamicRange,
		LogLevel:     s.cfg.LogLevel,
		DisplayName:  s.cfg.DisplayName,
		AdapterLUID:  s.cfg.AdapterLUID,
	})
	if err != nil {
		s.teardownHelper()
		s.setState(StateDraining)
		return errors.Wrap(err, "session: encode helper config")
	}
	if ok, err := s.ep.Send(cfgMsg, 3*time.Second); err != nil || !ok {
		s.teardownHelper()
		s.setState(StateDraining)
		return errors.New("session: failed to send helper config")
	}

	s.setState(StateHandshakeWaitingForHandle)

	handleCh := make(chan ipc.SharedHandleData, 1)
	s.loop = ipc.NewAsyncLoop(s.ep, s.log)
	s.loop.Start(
		func(b []byte) { s.onMessage(b, handleCh) },
		func(err error) { s.log.WithError(err).Warn("session: pipe error") },
		func() { s.onBrokenPipe() },
	)

	select {
	case shd := <-handleCh:
		mutex, tex, err := s.cfg.OpenTexture(shd.TextureHandle, shd.Width, shd.Height)
		if err != nil {
			s.log.WithError(err).Debug("session: failed to open shared texture")
			s.Cleanup()
			s.setState(StateDraining)
			return err
		}
		s.mutex, s.texture, s.width, s.height = mutex, tex, shd.Width, shd.Height

		// Inverse-mutex seed: the host releases key 2 with no prior
		// acquire so the helper (which only ever acquires key 0) does not
		// deadlock against an un-owned mutex.
		if err := s.mutex.ReleaseSync(hostReleaseKey); err != nil {
			s.log.WithError(err).Debug("session: seed release failed")
			s.Cleanup()
			s.setState(StateDraining)
			return err
		}

		s.setState(StateRunning)
		return nil
	case <-time.After(handleReceiveTimeout):
		s.Cleanup()
		s.setState(StateDraining)
		return errors.New("session: timed out waiting for shared handle data")
	case <-ctx.Done():
		s.Cleanup()
		s.setState(StateDraining)
		return ctx.Err()
	}
}

func (s *Session) onMessage(b []byte, handleCh chan<- ipc.SharedHandleData) {
	if s.State() == StateHandshakeWaitingForHandle {
		shd, err := ipc.DecodeSharedHandleData(b)
		if err != nil {
			s.log.WithError(err).Warn("session: malformed shared handle record")
			return
		}
		select {
		case handleCh <- shd:
		default:
		}
		return
	}
	if len(b) == 0 {
		return
	}
	switch b[0] {
	case ipc.MsgFrameReady:
		if qpc, ok := ipc.DecodeFrameReadyQPC(b[1:]); ok {
			s.frameQPC.Store(qpc)
		}
		s.frameReady.Store(true)
	case ipc.MsgSecureDesktop:
		s.shouldSwapToDXGI.Store(true)
	}
}

func (s *Session) onBrokenPipe() {
	s.log.Debug("session: broken pipe, requesting reinit")
	s.forceReinit.Store(true)
	s.setState(StateDraining)
}

// Acquire blocks for the next frame: poll frame-ready up to the caller's
// deadline, then AcquireSync(key=1, 200ms) on the keyed mutex.
func (s *Session) Acquire(timeout time.Duration) (GPUTexture, AcquireResult, error) {
	if !s.IsInitialised() {
		return nil, AcquireFailed, errors.New("session: not initialised")
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for !s.frameReady.Load() {
		if time.Now().After(deadline) {
			return nil, AcquireTimeout, nil
		}
		time.Sleep(frameReadyPollInterval)
	}

	mutexStart := time.Now()
	outcome, err := s.mutex.AcquireSync(hostAcquireKey, acquireMutexTimeout)
	switch outcome {
	case MutexAcquired:
		s.frameReady.Store(false)
		s.lastAcquireQPC.Store(s.frameQPC.Load())
		n := s.acquireCount.Add(1)
		if n%telemetryInterval == 0 {
			done := time.Now()
			s.log.WithFields(logrus.Fields{
				"acquires": n,
				"waitUs":   mutexStart.Sub(start).Microseconds(),
				"mutexUs":  done.Sub(mutexStart).Microseconds(),
				"totalUs":  done.Sub(start).Microseconds(),
			}).Debug("session: acquire telemetry")
		}
		return s.texture, AcquireOK, nil
	case MutexAbandoned:
		// The helper crashed or was killed while holding the writer key;
		// this is not a secure-desktop event, so only forceReinit is set.
		s.forceReinit.Store(true)
		return nil, AcquireFailed, errors.New("session: keyed mutex abandoned")
	case MutexTimedOut:
		return nil, AcquireFailed, nil
	default:
		if err != nil {
			s.log.WithError(err).Warn("session: acquire sync failed")
		}
		return nil, AcquireFailed, err
	}
}

// Release performs the release protocol: ReleaseSync(key=2) then a
// heartbeat byte if the pipe is still connected.
func (s *Session) Release() {
	if s.mutex == nil {
		return
	}
	if err := s.mutex.ReleaseSync(hostReleaseKey); err != nil {
		s.log.WithError(err).Warn("session: release sync failed")
	}
	if s.loop != nil && s.loop.IsConnected() {
		s.loop.Send([]byte{ipc.MsgHeartbeat})
	}
}

func (s *Session) teardownHelper() {
	s.helper.Terminate()
	s.helper.Close()
}

// Cleanup stops the async loop, terminates the helper, and resets all
// handles. Safe to call multiple times.
func (s *Session) Cleanup() {
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
	if s.ep != nil {
		s.ep.Disconnect() //nolint:errcheck
		s.ep = nil
	}
	s.teardownHelper()
	s.mutex = nil
	s.texture = nil
	s.frameReady.Store(false)
	s.forceReinit.Store(false)
	s.shouldSwapToDXGI.Store(false)
	s.setState(StateTerminal)
}

// Width and Height report the shared texture's physical pixel dimensions,
// valid once IsInitialised() is true.
func (s *Session) Width() uint32  { return s.width }
func (s *Session) Height() uint32 { return s.height }

// LastFrameQPC returns the helper's QueryPerformanceCounter reading for the
// most recently acquired frame, for capture-to-encode latency telemetry.
// Zero if the connected helper only ever sends the bare legacy frame-ready
// byte without a timestamp.
func (s *Session) LastFrameQPC() uint64 { return s.lastAcquireQPC.Load() }
