//go:build windows

package d3d11

import (
	"syscall"
	"unsafe"
)

// KeyedMutex wraps an IDXGIKeyedMutex COM pointer: the synchronisation
// primitive attached to the shared texture. The key discipline (helper
// writes under key 0 and releases to key 1, host acquires key 1 and
// releases to key 2) is implemented by the caller; this type only exposes
// the raw Acquire/Release calls.
type KeyedMutex struct {
	vtbl *idxgiKeyedMutexVtbl
}

type idxgiKeyedMutexVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr

	// IDXGIObject
	SetPrivateData          uintptr
	SetPrivateDataInterface uintptr
	GetPrivateData          uintptr
	GetParent               uintptr

	// IDXGIDeviceSubObject
	GetDevice uintptr

	// IDXGIKeyedMutex
	AcquireSync uintptr
	ReleaseSync uintptr
}

// AcquireResult distinguishes the three outcomes the session layer must
// react to differently.
type AcquireResult int

const (
	AcquireOK AcquireResult = iota
	AcquireTimeout
	AcquireAbandoned
)

const (
	waitObject0   = 0x00000000
	waitAbandoned = 0x00000080
	waitTimeout   = 0x00000102
)

// AcquireSync calls IDXGIKeyedMutex::AcquireSync(key, timeoutMs).
// WAIT_ABANDONED (the helper died or was killed while holding the writer
// key) is surfaced distinctly from WAIT_TIMEOUT so the caller can force a
// reinit rather than treat it as an ordinary timeout.
func (k *KeyedMutex) AcquireSync(key uint64, timeoutMs uint32) (AcquireResult, error) {
	ret, _, _ := syscall.Syscall(k.vtbl.AcquireSync, 3,
		uintptr(unsafe.Pointer(k)), uintptr(key), uintptr(timeoutMs))
	switch uint32(ret) {
	case waitObject0:
		return AcquireOK, nil
	case waitAbandoned:
		return AcquireAbandoned, nil
	case waitTimeout:
		return AcquireTimeout, nil
	default:
		return AcquireTimeout, hresult(ret)
	}
}

// ReleaseSync calls IDXGIKeyedMutex::ReleaseSync(key).
func (k *KeyedMutex) ReleaseSync(key uint64) error {
	ret, _, _ := syscall.Syscall(k.vtbl.ReleaseSync, 2, uintptr(unsafe.Pointer(k)), uintptr(key), 0)
	return hresult(ret)
}

// Release decrements the COM reference count.
func (k *KeyedMutex) Release() uint32 {
	ret, _, _ := syscall.Syscall(k.vtbl.Release, 1, uintptr(unsafe.Pointer(k)), 0, 0)
	return uint32(ret)
}
