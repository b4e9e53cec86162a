//go:build windows

// Package overlapped implements the cancel-and-drain discipline required
// for every asynchronous named-pipe operation: each call gets a fresh
// OVERLAPPED structure and manual-reset event, and on timeout the pending
// I/O is cancelled with CancelIoEx and then drained with a blocking
// GetOverlappedResult before the function returns. Skipping the drain step
// leaves the OVERLAPPED structure referenced by the kernel after the stack
// frame that owns it returns, which corrupts memory under load.
package overlapped

import (
	"errors"
	"time"

	"golang.org/x/sys/windows"
)

// ErrTimeout is returned when an operation's deadline elapses before the
// kernel completes it.
var ErrTimeout = errors.New("overlapped: operation timed out")

// newEvent creates a manual-reset, initially-unsignalled event suitable for
// use as OVERLAPPED.HEvent.
func newEvent() (windows.Handle, error) {
	return windows.CreateEvent(nil, 1, 0, nil)
}

// run submits start (which must kick off exactly one overlapped operation
// against h using o) and waits up to timeout for completion. On timeout it
// cancels the operation and blocks until the kernel confirms the
// cancellation before returning, so o is safe to free on return in every
// case.
func run(h windows.Handle, timeout time.Duration, start func(o *windows.Overlapped) error) (uint32, error) {
	var o windows.Overlapped
	ev, err := newEvent()
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(ev) //nolint:errcheck
	o.HEvent = ev

	err = start(&o)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		return 0, err
	}

	if err == nil {
		// Completed synchronously; still fetch the byte count via
		// GetOverlappedResult for a uniform return path.
		var n uint32
		gerr := windows.GetOverlappedResult(h, &o, &n, false)
		return n, gerr
	}

	waitMs := uint32(windows.INFINITE)
	if timeout >= 0 {
		waitMs = uint32(timeout / time.Millisecond)
	}

	switch rc, werr := windows.WaitForSingleObject(ev, waitMs); rc {
	case windows.WAIT_OBJECT_0:
		var n uint32
		gerr := windows.GetOverlappedResult(h, &o, &n, false)
		return n, gerr
	case uint32(windows.WAIT_TIMEOUT):
		if cerr := windows.CancelIoEx(h, &o); cerr != nil && !errors.Is(cerr, windows.ERROR_NOT_FOUND) {
			// Cancellation itself failed for a reason other than "already
			// done"; still must drain before returning.
			_ = cerr
		}
		var n uint32
		// Block until the kernel confirms o is no longer in use, per the
		// package invariant. The returned count/error from an aborted
		// operation is discarded; the caller only needs to know it timed
		// out and that o is now safe to free.
		_ = windows.GetOverlappedResult(h, &o, &n, true)
		return 0, ErrTimeout
	default:
		return 0, werr
	}
}

// Read performs an overlapped ReadFile on h with a fresh OVERLAPPED,
// returning ErrTimeout if timeout elapses first.
func Read(h windows.Handle, buf []byte, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := run(h, timeout, func(o *windows.Overlapped) error {
		return windows.ReadFile(h, buf, nil, o)
	})
	return int(n), err
}

// Write performs an overlapped WriteFile on h, returning the number of
// bytes actually written and ErrTimeout if timeout elapses first.
func Write(h windows.Handle, buf []byte, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := run(h, timeout, func(o *windows.Overlapped) error {
		return windows.WriteFile(h, buf, nil, o)
	})
	return int(n), err
}

// Connect performs an overlapped ConnectNamedPipe, treating
// ERROR_PIPE_CONNECTED as immediate success.
func Connect(h windows.Handle, timeout time.Duration) error {
	_, err := run(h, timeout, func(o *windows.Overlapped) error {
		err := connectNamedPipe(h, o)
		if err != nil && errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
			return nil
		}
		return err
	})
	if errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
		return nil
	}
	return err
}

// CancelAndDrain cancels every pending operation on h with CancelIoEx. Used
// by disconnect paths that must unblock another goroutine's in-flight
// Read/Write/Connect before closing h. It does not itself wait for the
// cancelled operations to complete; each of them is drained by its own run
// call, which wakes on the operation's completion event.
func CancelAndDrain(h windows.Handle) error {
	if err := windows.CancelIoEx(h, nil); err != nil && !errors.Is(err, windows.ERROR_NOT_FOUND) {
		return err
	}
	return nil
}
