//go:build windows

package d3d11

import (
	"syscall"
	"unsafe"
)

// Device wraps an ID3D11Device COM pointer. The struct's sole field is the
// vtable pointer, so a *Device has the same memory layout as the COM
// object itself and a pointer returned from a COM call can be cast
// directly to *Device.
type Device struct {
	vtbl *id3d11DeviceVtbl
}

type id3d11DeviceVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr

	CreateBuffer                         uintptr
	CreateTexture1D                      uintptr
	CreateTexture2D                      uintptr
	CreateTexture3D                      uintptr
	CreateShaderResourceView             uintptr
	CreateUnorderedAccessView            uintptr
	CreateRenderTargetView               uintptr
	CreateDepthStencilView               uintptr
	CreateInputLayout                    uintptr
	CreateVertexShader                   uintptr
	CreateGeometryShader                 uintptr
	CreateGeometryShaderWithStreamOutput uintptr
	CreatePixelShader                    uintptr
	CreateHullShader                     uintptr
	CreateDomainShader                   uintptr
	CreateComputeShader                  uintptr
	CreateClassLinkage                   uintptr
	CreateBlendState                     uintptr
	CreateDepthStencilState              uintptr
	CreateRasterizerState                uintptr
	CreateSamplerState                   uintptr
	CreateQuery                          uintptr
	CreatePredicate                      uintptr
	CreateCounter                        uintptr
	CreateDeferredContext                uintptr
	OpenSharedResource                   uintptr
	CheckFormatSupport                   uintptr
	CheckMultisampleQualityLevels        uintptr
	CheckCounterInfo                     uintptr
	CheckCounter                         uintptr
	CheckFeatureSupport                  uintptr
	GetPrivateData                       uintptr
	SetPrivateData                       uintptr
	SetPrivateDataInterface              uintptr
	GetFeatureLevel                      uintptr
	GetCreationFlags                     uintptr
	GetDeviceRemovedReason               uintptr
	GetImmediateContext                  uintptr
	SetExceptionMode                     uintptr
	GetExceptionMode                     uintptr
}

// Release decrements the COM reference count.
func (d *Device) Release() uint32 {
	ret, _, _ := syscall.Syscall(d.vtbl.Release, 1, uintptr(unsafe.Pointer(d)), 0, 0)
	return uint32(ret)
}

// CreateSharedKeyedMutexTexture allocates a 2D texture with the
// SHARED_KEYED_MUTEX misc flag, mipless, single array slice, default
// usage, no bind flags: the layout the cross-process surface requires.
func (d *Device) CreateSharedKeyedMutexTexture(width, height uint32, format Format) (*Texture2D, error) {
	desc := Texture2DDesc{
		Width:         width,
		Height:        height,
		MipLevels:     1,
		ArraySize:     1,
		Format:        format,
		SampleCount:   1,
		SampleQuality: 0,
		Usage:         UsageDefault,
		BindFlags:     0,
		MiscFlags:     ResourceMiscSharedKeyedMutex,
	}
	var tex *Texture2D
	ret, _, _ := syscall.Syscall6(d.vtbl.CreateTexture2D, 5,
		uintptr(unsafe.Pointer(d)),
		uintptr(unsafe.Pointer(&desc)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&tex)),
		0, 0,
	)
	if err := hresult(ret); err != nil {
		return nil, err
	}
	return tex, nil
}

// OpenSharedTexture duplicates a shared texture handle (published by the
// helper as SharedHandleData.TextureHandle) into this device's address
// space. Both processes must have created their device on the same
// adapter LUID for this to succeed.
func (d *Device) OpenSharedTexture(handle uintptr) (*Texture2D, error) {
	var tex *Texture2D
	ret, _, _ := syscall.Syscall6(d.vtbl.OpenSharedResource, 4,
		uintptr(unsafe.Pointer(d)),
		handle,
		uintptr(unsafe.Pointer(&iidID3D11Texture2D)),
		uintptr(unsafe.Pointer(&tex)),
		0, 0,
	)
	if err := hresult(ret); err != nil {
		return nil, err
	}
	return tex, nil
}
