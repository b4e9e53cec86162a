//go:build windows

package wgc

import (
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// frameArrivedDelegate is a hand-rolled WinRT delegate implementing
// ITypedEventHandler<Direct3D11CaptureFramePool, IInspectable>: the COM
// object Direct3D11CaptureFramePool::add_FrameArrived calls back into on
// every captured frame. WinRT
// delegates are plain COM objects (IUnknown + one Invoke method, no
// IInspectable), so this needs its own minimal vtable rather than reusing
// internal/wgc's inspectableVtbl-based wrappers.
//
// Go has no COM server support, so the vtable's function pointers are
// produced with syscall.NewCallback, the same mechanism WNDPROC and
// EnumWindows callbacks use elsewhere in the Windows ecosystem; the "this"
// pointer each call receives is resolved back to its Go closure through
// delegateRegistry, keyed by the delegate's allocated address, which also
// keeps the object reachable so the garbage collector never reclaims it
// out from under a live COM reference.
type frameArrivedVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
	Invoke         uintptr
}

type frameArrivedDelegate struct {
	vtbl *frameArrivedVtbl
	refs int32
	fn   func(pool uintptr)
}

var (
	delegateRegistryMu sync.Mutex
	delegateRegistry   = map[uintptr]*frameArrivedDelegate{}

	sharedFrameArrivedVtbl = &frameArrivedVtbl{
		QueryInterface: syscall.NewCallback(delegateQueryInterface),
		AddRef:         syscall.NewCallback(delegateAddRef),
		Release:        syscall.NewCallback(delegateRelease),
		Invoke:         syscall.NewCallback(delegateInvoke),
	}
)

// newFrameArrivedDelegate allocates a delegate whose Invoke calls fn with
// the sender (the frame pool) each time the frame pool raises
// FrameArrived. Returns the raw COM pointer to pass to add_FrameArrived and
// a release func the caller must invoke once (via remove_FrameArrived /
// teardown) to drop the registry's reference.
func newFrameArrivedDelegate(fn func(pool uintptr)) (uintptr, func()) {
	d := &frameArrivedDelegate{vtbl: sharedFrameArrivedVtbl, refs: 1, fn: fn}
	addr := uintptr(unsafe.Pointer(d))

	delegateRegistryMu.Lock()
	delegateRegistry[addr] = d
	delegateRegistryMu.Unlock()

	release := func() {
		delegateRegistryMu.Lock()
		delete(delegateRegistry, addr)
		delegateRegistryMu.Unlock()
	}
	return addr, release
}

func lookupDelegate(this uintptr) *frameArrivedDelegate {
	delegateRegistryMu.Lock()
	defer delegateRegistryMu.Unlock()
	return delegateRegistry[this]
}

// delegateQueryInterface always succeeds: a delegate only ever needs to
// answer for IUnknown (WinRT never queries a delegate for anything else).
func delegateQueryInterface(this, _, out uintptr) uintptr {
	*(*uintptr)(unsafe.Pointer(out)) = this
	delegateAddRef(this)
	return 0 // S_OK
}

func delegateAddRef(this uintptr) uintptr {
	d := lookupDelegate(this)
	if d == nil {
		return 1
	}
	return uintptr(atomic.AddInt32(&d.refs, 1))
}

func delegateRelease(this uintptr) uintptr {
	d := lookupDelegate(this)
	if d == nil {
		return 0
	}
	n := atomic.AddInt32(&d.refs, -1)
	if n <= 0 {
		delegateRegistryMu.Lock()
		delete(delegateRegistry, this)
		delegateRegistryMu.Unlock()
	}
	return uintptr(n)
}

func delegateInvoke(this, sender, _ uintptr) uintptr {
	d := lookupDelegate(this)
	if d == nil || d.fn == nil {
		return 0
	}
	d.fn(sender)
	return 0 // S_OK; panics inside fn are the caller's responsibility to recover
}
