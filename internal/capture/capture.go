// Package capture implements the host-side capture backend and swap
// controller: a single interface the encoder drives, behind which the
// active backend silently swaps between Windows Graphics Capture and the
// DXGI Desktop Duplication fallback when the secure desktop appears and
// disappears.
package capture

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is the six-value capture outcome the encoder sees; it is the only
// vocabulary that crosses the capture/encoder boundary. Transport errors
// and HRESULTs never do.
type Result int

const (
	ResultOK Result = iota
	ResultTimeout
	ResultReinit
	ResultError
	ResultInterrupted
	ResultSwapCapture
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultTimeout:
		return "Timeout"
	case ResultReinit:
		return "Reinit"
	case ResultError:
		return "Error"
	case ResultInterrupted:
		return "Interrupted"
	default:
		return "SwapCapture"
	}
}

// Kind names which backend is currently active.
type Kind int

const (
	KindWGC Kind = iota
	KindDXGI
)

func (k Kind) String() string {
	if k == KindWGC {
		return "wgc"
	}
	return "dxgi"
}

// Image is an opaque captured-frame handle; the capture package never
// inspects it. On Windows a WGC frame is a *internal/d3d11.Texture2D and a
// DXGI frame is the resource duplicated by internal/dxgidup.
type Image interface{}

// PullFreeImageFunc lets the backend pull a reusable destination image from
// the caller's pool instead of allocating one per frame; backends that
// hand back a GPU handle directly (as the WGC/DXGI ones here do) may ignore
// it.
type PullFreeImageFunc func() (Image, error)

// Backend is the capture interface the selector wraps and that an outer
// capture loop ultimately drives. Both the WGC backend and the DXGI
// fallback implement it with identical semantics.
type Backend interface {
	Snapshot(ctx context.Context, pull PullFreeImageFunc, timeout time.Duration, cursorVisible bool) (Image, Result)
	ReleaseSnapshot() Result
}

// Selector owns the currently active backend and implements the swap
// protocol: each backend decides for itself when a swap is needed and
// reports it by returning ResultSwapCapture from Snapshot. The WGC backend
// does so when its session observes the secure-desktop signal, the DXGI
// backend when its own periodic check finds the secure desktop gone. The
// selector itself only ever flips which backend receives the next call; it
// never reinitialises one backend while the other is still running.
type Selector struct {
	log *logrus.Entry

	wgc  Backend
	dxgi Backend

	active Kind
}

// NewSelector constructs a Selector starting on the WGC backend. dxgi may
// be nil; a secure-desktop swap request
// then degrades to ResultError instead of switching backends (this occurs
// only when the DXGI fallback collaborator was not wired in).
func NewSelector(wgc, dxgi Backend, log *logrus.Entry) *Selector {
	return &Selector{
		wgc:    wgc,
		dxgi:   dxgi,
		active: KindWGC,
		log:    log.WithField("component", "capture-selector"),
	}
}

// Active reports which backend is currently serving Snapshot calls.
func (s *Selector) Active() Kind { return s.active }

// Snapshot dispatches to the active backend and, on ResultSwapCapture,
// flips to the other one so the caller's next Snapshot call lands there.
func (s *Selector) Snapshot(ctx context.Context, pull PullFreeImageFunc, timeout time.Duration, cursorVisible bool) (Image, Result) {
	backend := s.currentBackend()
	if backend == nil {
		return nil, ResultError
	}

	img, result := backend.Snapshot(ctx, pull, timeout, cursorVisible)
	if result != ResultSwapCapture {
		return img, result
	}

	if s.active == KindWGC {
		if s.dxgi == nil {
			s.log.Warn("capture: secure desktop swap requested but no DXGI fallback is wired")
			return nil, ResultError
		}
		s.log.Info("capture: swapping WGC -> DXGI")
		s.active = KindDXGI
	} else {
		s.log.Info("capture: swapping DXGI -> WGC")
		s.active = KindWGC
	}
	return nil, ResultSwapCapture
}

// ReleaseSnapshot releases whichever backend is currently active.
func (s *Selector) ReleaseSnapshot() Result {
	backend := s.currentBackend()
	if backend == nil {
		return ResultError
	}
	return backend.ReleaseSnapshot()
}

func (s *Selector) currentBackend() Backend {
	if s.active == KindWGC {
		return s.wgc
	}
	return s.dxgi
}
