package capture

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lizardbyte/sunshine-wgc/internal/session"
)

// WGCBackend adapts a *session.Session to the Backend interface: check the
// swap flag first, lazily initialise, then delegate to the session's
// acquire protocol.
type WGCBackend struct {
	log *logrus.Entry
	s   *session.Session
}

// NewWGCBackend wraps an unstarted or already-initialised session.
func NewWGCBackend(s *session.Session, log *logrus.Entry) *WGCBackend {
	return &WGCBackend{s: s, log: log.WithField("component", "capture-wgc")}
}

func (b *WGCBackend) Snapshot(ctx context.Context, _ PullFreeImageFunc, timeout time.Duration, _ bool) (Image, Result) {
	if b.s.ShouldSwapToDXGI() {
		b.log.Info("secure desktop detected, swapping to DXGI")
		return nil, ResultSwapCapture
	}

	if !b.s.IsInitialised() {
		if err := b.s.EnsureInitialised(ctx); err != nil {
			b.log.WithError(err).Debug("lazy init failed")
			return nil, ResultError
		}
	}

	tex, result, err := b.s.Acquire(timeout)
	switch result {
	case session.AcquireOK:
		return tex, ResultOK
	case session.AcquireTimeout:
		return nil, ResultTimeout
	default:
		if b.s.ShouldReinit() {
			return nil, ResultReinit
		}
		if err != nil {
			b.log.WithError(err).Warn("acquire failed")
		}
		return nil, ResultError
	}
}

func (b *WGCBackend) ReleaseSnapshot() Result {
	b.s.Release()
	return ResultOK
}
