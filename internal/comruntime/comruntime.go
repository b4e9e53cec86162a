// Package comruntime bootstraps the COM apartment the helper's
// desktop-switch hook pump thread needs. WinRT's GraphicsCaptureItem and
// Direct3D11CaptureFramePool are reached as raw vtable pointers by
// internal/wgc, but COM apartment initialization is still required on any
// thread that activates a WinRT runtime class or pumps window messages.
package comruntime

import (
	"runtime"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/pkg/errors"
)

// Apartment represents one thread's COM initialization. It must be released
// from the same OS thread that created it (COM apartments are thread-
// affine), so callers construct it after runtime.LockOSThread and release it
// before runtime.UnlockOSThread.
type Apartment struct {
	released sync.Once
}

// InitializeSingleThreaded initializes the calling OS thread's COM apartment
// as single-threaded (STA), the model both WinRT activation and the
// WinEventHook message pump require. The caller must have already called
// runtime.LockOSThread and must call Release (or Close) from the same
// goroutine before unlocking it.
func InitializeSingleThreaded() (*Apartment, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		return nil, errors.Wrap(err, "comruntime: CoInitializeEx(APARTMENTTHREADED)")
	}
	return &Apartment{}, nil
}

// Close uninitializes the apartment. Idempotent; safe to defer.
func (a *Apartment) Close() {
	a.released.Do(func() {
		ole.CoUninitialize()
	})
}

// Run locks the calling goroutine to its OS thread, initializes a
// single-threaded apartment, runs fn, then unwinds both in reverse order,
// so COM state never survives past the goroutine that created it.
func Run(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	apt, err := InitializeSingleThreaded()
	if err != nil {
		return err
	}
	defer apt.Close()

	return fn()
}
