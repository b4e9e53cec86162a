// Package wgc implements the capture helper's side of the subsystem: the
// WGC capture item/frame-pool/session triple (capture_windows.go), the
// shared keyed-mutex texture it publishes (helper_windows.go), the
// secure-desktop WinEventHook (desktophook_windows.go), and the
// orchestration tying them to the host-helper wire protocol (this file).
//
// The orchestration here has no Windows dependency so the handshake,
// config-receive, and watchdog state machine can be exercised against a
// fake capture source and fake transport on any platform; only the
// GOOS=windows files open real WinRT/D3D11 objects.
package wgc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

// MutexWaitOutcome mirrors internal/session's three keyed-mutex wait
// outcomes; kept as a distinct type since the helper and host react to
// WAIT_ABANDONED differently (the helper has no reinit concept — an
// abandoned writer-side wait is handled like any other failed wait: that
// frame is dropped and capture continues).
type MutexWaitOutcome int

const (
	MutexAcquired MutexWaitOutcome = iota
	MutexTimedOut
	MutexAbandoned
)

// writerAcquireTimeout bounds the helper's AcquireSync(0) call per frame.
const writerAcquireTimeout = 200 * time.Millisecond

// configReceiveTimeout bounds how long Run waits for the host to send
// HelperConfig after the handshake completes.
const configReceiveTimeout = 5 * time.Second

// GPUSurface is an opaque handle to a captured WGC frame's D3D11 surface,
// as produced by the capture source and consumed by SharedSurface.
// CopyFrame. On Windows it is a *internal/d3d11.Texture2D.
type GPUSurface interface{}

// FrameSource is the capture pipeline the helper drives: opens the WGC
// item/frame-pool/session and invokes the Helper's onFrame callback for
// every delivered frame until Close.
type FrameSource interface {
	Close()
}

// SharedSurface is the helper's writer-side face of the shared,
// keyed-mutex-protected texture published to the host: acquire key 0,
// copy the captured frame in, release key 1.
type SharedSurface interface {
	AcquireSync(key uint64, timeout time.Duration) (MutexWaitOutcome, error)
	ReleaseSync(key uint64) error
	CopyFrame(src GPUSurface) error
	SharedHandle() (uint64, error)
	Close()
}

// OpenCaptureFunc opens the WGC capture pipeline named by cfg and arranges
// for onFrame to be invoked (on the capture delivery thread) for every
// frame. Production code (helper_windows.go) wires this to OpenSession;
// tests inject a fake that calls onFrame synchronously.
type OpenCaptureFunc func(cfg ipc.HelperConfig, onFrame func(src GPUSurface)) (src FrameSource, width, height uint32, err error)

// NewSharedSurfaceFunc allocates the shared keyed-mutex texture sized to
// the capture source's physical dimensions, on the same device the source
// was opened on.
type NewSharedSurfaceFunc func(source FrameSource, width, height uint32) (SharedSurface, error)

// DesktopHook is the minimal interface Run drives; satisfied by
// *DesktopSwitchHook in production and by a no-op fake in tests that don't
// exercise the secure-desktop path.
type DesktopHook interface {
	Start(onSecureDesktop func()) error
	Stop()
}

type nopDesktopHook struct{}

func (nopDesktopHook) Start(func()) error { return nil }
func (nopDesktopHook) Stop()              {}

// Config configures a Helper instance.
type Config struct {
	ParentPID        int
	Transport        ipc.Transport
	OpenCapture      OpenCaptureFunc
	NewSharedSurface NewSharedSurfaceFunc
	DesktopHook      DesktopHook // nil means no secure-desktop detection (tests)
	// QPCNow reports the current QueryPerformanceCounter value, stamped on
	// every frame-ready message. Defaults to a monotonic nanosecond clock
	// when nil, so tests don't need Windows.
	QPCNow func() uint64
}

// Helper is the capture process's state machine: complete the anonymous
// handshake, receive HelperConfig, open the capture pipeline, publish the
// shared texture, then run until the host disconnects, the context is
// cancelled, or the heartbeat watchdog fires.
type Helper struct {
	cfg Config
	log *logrus.Entry

	ep   ipc.Endpoint
	loop *ipc.AsyncLoop

	source  FrameSource
	surface SharedSurface
	hb      *heartbeatWatchdog

	// capturing is set once startCapture succeeds; onMessage runs on the
	// async loop's goroutine and must not read h.surface/h.source (written
	// from Run's goroutine) to decide how to interpret an incoming
	// message, so it checks this atomic instead.
	capturing atomic.Bool
}

// New constructs an unstarted Helper.
func New(cfg Config, log *logrus.Entry) *Helper {
	if cfg.QPCNow == nil {
		start := time.Now()
		cfg.QPCNow = func() uint64 { return uint64(time.Since(start)) }
	}
	if cfg.DesktopHook == nil {
		cfg.DesktopHook = nopDesktopHook{}
	}
	return &Helper{cfg: cfg, log: log.WithField("component", "helper")}
}

// Run drives the full helper lifecycle to completion. It returns when the
// host disconnects, ctx is cancelled, or the heartbeat watchdog times out;
// callers (cmd/wgc-helper) treat any return as "exit now".
func (h *Helper) Run(ctx context.Context) error {
	ep, err := ipc.RunHelperHandshake(ctx, h.cfg.Transport, h.cfg.ParentPID, h.log)
	if err != nil {
		return errors.Wrap(err, "helper: handshake failed")
	}
	h.ep = ep

	doneCh := make(chan struct{})
	cfgCh := make(chan ipc.HelperConfig, 1)
	h.hb = newHeartbeatWatchdog(nil)

	h.loop = ipc.NewAsyncLoop(ep, h.log)
	h.loop.Start(
		func(b []byte) { h.onMessage(b, cfgCh) },
		func(err error) { h.log.WithError(err).Warn("helper: pipe error") },
		func() {
			h.log.Debug("helper: host disconnected")
			close(doneCh)
		},
	)
	defer h.loop.Stop()

	var cfg ipc.HelperConfig
	select {
	case cfg = <-cfgCh:
	case <-time.After(configReceiveTimeout):
		return errors.New("helper: timed out waiting for helper config")
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
		return errors.New("helper: host disconnected before sending config")
	}

	if err := h.startCapture(cfg); err != nil {
		return errors.Wrap(err, "helper: start capture")
	}
	defer h.teardownCapture()

	h.cfg.DesktopHook.Start(func() {
		h.loop.Send([]byte{ipc.MsgSecureDesktop})
	})
	defer h.cfg.DesktopHook.Stop()

	watchdogDone := make(chan struct{})
	h.hb.Start(func() {
		h.log.Warn("helper: heartbeat timeout, host appears gone")
		close(watchdogDone)
	})
	defer h.hb.Stop()

	select {
	case <-doneCh:
		return nil
	case <-watchdogDone:
		return errors.New("helper: heartbeat timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Helper) startCapture(cfg ipc.HelperConfig) error {
	source, width, height, err := h.cfg.OpenCapture(cfg, h.handleFrame)
	if err != nil {
		return err
	}
	h.source = source

	surface, err := h.cfg.NewSharedSurface(source, width, height)
	if err != nil {
		source.Close()
		return err
	}
	h.surface = surface

	handle, err := surface.SharedHandle()
	if err != nil {
		surface.Close()
		source.Close()
		return err
	}
	shd := ipc.EncodeSharedHandleData(ipc.SharedHandleData{TextureHandle: handle, Width: width, Height: height})
	if ok, err := h.ep.Send(shd, 3*time.Second); err != nil || !ok {
		surface.Close()
		source.Close()
		return errors.New("helper: failed to send shared handle data")
	}
	h.capturing.Store(true)
	return nil
}

func (h *Helper) teardownCapture() {
	if h.surface != nil {
		h.surface.Close()
		h.surface = nil
	}
	if h.source != nil {
		h.source.Close()
		h.source = nil
	}
}

func (h *Helper) onMessage(b []byte, cfgCh chan<- ipc.HelperConfig) {
	if !h.capturing.Load() {
		cfg, err := ipc.DecodeHelperConfig(b)
		if err != nil {
			h.log.WithError(err).Warn("helper: malformed helper config")
			return
		}
		select {
		case cfgCh <- cfg:
		default:
		}
		return
	}
	if len(b) == 0 {
		return
	}
	if b[0] == ipc.MsgHeartbeat {
		h.hb.Touch()
	}
}

// handleFrame runs once per delivered frame: acquire the writer key, copy
// the frame, release the reader key, announce readiness with the QPC
// timestamp the host uses for latency telemetry. Errors are logged and the
// frame dropped rather than propagated; one missed frame must never take
// the capture loop down.
func (h *Helper) handleFrame(src GPUSurface) {
	outcome, err := h.surface.AcquireSync(0, writerAcquireTimeout)
	if outcome != MutexAcquired {
		if err != nil {
			h.log.WithError(err).Debug("helper: writer acquire failed")
		}
		return
	}
	copyErr := h.surface.CopyFrame(src)
	if copyErr != nil {
		h.log.WithError(copyErr).Warn("helper: copy frame failed")
	}
	if err := h.surface.ReleaseSync(1); err != nil {
		h.log.WithError(err).Warn("helper: writer release failed")
		return
	}
	// A failed copy still releases the mutex so the host is never wedged,
	// but the stale surface is not advertised as a fresh frame.
	if copyErr != nil {
		return
	}
	h.loop.Send(ipc.EncodeFrameReady(h.cfg.QPCNow()))
}
