// Package dxgidup implements the DXGI Desktop Duplication fallback
// backend: the capture path used while the secure desktop is active and
// Windows Graphics Capture cannot attach to it. While active it
// periodically re-checks whether the secure desktop is gone and requests a
// swap back to WGC once it is.
package dxgidup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lizardbyte/sunshine-wgc/internal/capture"
)

// ErrTimeout is returned by Duplicator.AcquireNextFrame when no new
// desktop frame arrived within the caller's timeout (DXGI_ERROR_WAIT_TIMEOUT).
var ErrTimeout = errors.New("dxgidup: acquire next frame timed out")

// checkInterval is how often Snapshot re-checks whether the secure desktop
// is still active.
const checkInterval = 2 * time.Second

// Duplicator is the minimal IDXGIOutputDuplication surface the backend
// drives: acquire the next desktop frame, or release the one currently
// held. Implemented for real by duplication_windows.go.
type Duplicator interface {
	AcquireNextFrame(timeout time.Duration) (capture.Image, error)
	ReleaseFrame() error
}

// SecureDesktopActiveFunc reports whether the secure desktop (UAC consent,
// Winlogon/SAD) is still showing. Implemented for real by
// secure_desktop_windows.go.
type SecureDesktopActiveFunc func() bool

// Backend implements capture.Backend over a Duplicator, polling
// SecureDesktopActiveFunc every checkInterval and returning
// ResultSwapCapture once the secure desktop is gone so the selector swaps
// back to WGC.
type Backend struct {
	log                 *logrus.Entry
	dup                 Duplicator
	secureDesktopActive SecureDesktopActiveFunc
	lastCheck           time.Time
}

// NewBackend constructs a dxgidup Backend.
func NewBackend(dup Duplicator, secureDesktopActive SecureDesktopActiveFunc, log *logrus.Entry) *Backend {
	return &Backend{
		dup:                 dup,
		secureDesktopActive: secureDesktopActive,
		log:                 log.WithField("component", "capture-dxgi"),
	}
}

func (b *Backend) Snapshot(_ context.Context, _ capture.PullFreeImageFunc, timeout time.Duration, _ bool) (capture.Image, capture.Result) {
	now := time.Now()
	if b.lastCheck.IsZero() || now.Sub(b.lastCheck) >= checkInterval {
		b.lastCheck = now
		if !b.secureDesktopActive() {
			b.log.Info("secure desktop no longer active, requesting swap back to WGC")
			return nil, capture.ResultSwapCapture
		}
	}

	img, err := b.dup.AcquireNextFrame(timeout)
	if err != nil {
		if err == ErrTimeout {
			return nil, capture.ResultTimeout
		}
		b.log.WithError(err).Warn("acquire next frame failed")
		return nil, capture.ResultError
	}
	return img, capture.ResultOK
}

func (b *Backend) ReleaseSnapshot() capture.Result {
	if err := b.dup.ReleaseFrame(); err != nil {
		b.log.WithError(err).Warn("release frame failed")
		return capture.ResultError
	}
	return capture.ResultOK
}
