//go:build windows

package d3d11

import (
	"syscall"
	"unsafe"
)

// Resource wraps an IDXGIResource COM pointer, used only to fetch the
// shared NT handle of a texture created with ResourceMiscSharedKeyedMutex.
type Resource struct {
	vtbl *idxgiResourceVtbl
}

type idxgiResourceVtbl struct {
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

	// IDXGIResource
	GetSharedHandle     uintptr
	GetUsage            uintptr
	SetEvictionPriority uintptr
	GetEvictionPriority uintptr
}

// GetSharedHandle returns the process-local HANDLE value that identifies
// this texture for cross-process sharing, the value transmitted as
// SharedHandleData.TextureHandle.
func (r *Resource) GetSharedHandle() (uintptr, error) {
	var h uintptr
	ret, _, _ := syscall.Syscall(r.vtbl.GetSharedHandle, 2,
		uintptr(unsafe.Pointer(r)), uintptr(unsafe.Pointer(&h)), 0)
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return h, nil
}

// Release decrements the COM reference count.
func (r *Resource) Release() uint32 {
	ret, _, _ := syscall.Syscall(r.vtbl.Release, 1, uintptr(unsafe.Pointer(r)), 0, 0)
	return uint32(ret)
}
