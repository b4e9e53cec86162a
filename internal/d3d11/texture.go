//go:build windows

package d3d11

import (
	"syscall"
	"unsafe"
)

// Texture2D wraps an ID3D11Texture2D COM pointer.
type Texture2D struct {
	vtbl *id3d11Texture2DVtbl
}

type id3d11Texture2DVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr

	// ID3D11DeviceChild
	GetDevice               uintptr
	GetPrivateData          uintptr
	SetPrivateData          uintptr
	SetPrivateDataInterface uintptr

	// ID3D11Resource
	GetType             uintptr
	SetEvictionPriority uintptr
	GetEvictionPriority uintptr

	// ID3D11Texture2D
	GetDesc uintptr
}

func (t *Texture2D) queryInterface(iid *GUID) (uintptr, error) {
	var out uintptr
	ret, _, _ := syscall.Syscall(t.vtbl.QueryInterface, 3,
		uintptr(unsafe.Pointer(t)),
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)))
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return out, nil
}

// Release decrements the COM reference count.
func (t *Texture2D) Release() uint32 {
	ret, _, _ := syscall.Syscall(t.vtbl.Release, 1, uintptr(unsafe.Pointer(t)), 0, 0)
	return uint32(ret)
}

// KeyedMutex obtains the IDXGIKeyedMutex face of this texture. Every shared
// texture created with ResourceMiscSharedKeyedMutex exposes one.
func (t *Texture2D) KeyedMutex() (*KeyedMutex, error) {
	p, err := t.queryInterface(&iidIDXGIKeyedMutex)
	if err != nil {
		return nil, err
	}
	return (*KeyedMutex)(unsafe.Pointer(p)), nil
}

// DXGIResource obtains the IDXGIResource face, used to fetch the shared
// NT handle the helper publishes to the host as SharedHandleData.
func (t *Texture2D) DXGIResource() (*Resource, error) {
	p, err := t.queryInterface(&iidIDXGIResource)
	if err != nil {
		return nil, err
	}
	return (*Resource)(unsafe.Pointer(p)), nil
}

// Ptr exposes the raw COM pointer for CopyResource's destination/source
// arguments, which take IUnknown-compatible ID3D11Resource pointers.
func (t *Texture2D) Ptr() uintptr { return uintptr(unsafe.Pointer(t)) }
