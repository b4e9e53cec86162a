//go:build windows

package dxgidup

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
)

// factory1/adapter1 duplicate the shape of internal/d3d11's unexported
// adapter-enumeration wrappers (same COM interfaces, same vtable layout);
// this package additionally needs IDXGIAdapter1::EnumOutputs, which
// internal/d3d11 has no caller for, so the enumeration chain is
// self-contained here rather than exported across the package boundary.
var iidIDXGIFactory1 = d3d11.GUID{0x770aae78, 0xf26f, 0x4dba, [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87}}

var procCreateDXGIFactory1 = syscall.NewLazyDLL("dxgi.dll").NewProc("CreateDXGIFactory1")

type factory1 struct{ vtbl *factory1Vtbl }

type factory1Vtbl struct {
	QueryInterface, AddRef, Release                                            uintptr
	SetPrivateData, SetPrivateDataInterface, GetPrivateData, GetParent         uintptr
	EnumAdapters, MakeWindowAssociation, GetWindowAssociation, CreateSwapChain uintptr
	CreateSoftwareAdapter                                                      uintptr
	EnumAdapters1, IsCurrent                                                   uintptr
}

type adapter1 struct{ vtbl *adapter1Vtbl }

type adapter1Vtbl struct {
	QueryInterface, AddRef, Release                                    uintptr
	SetPrivateData, SetPrivateDataInterface, GetPrivateData, GetParent uintptr
	EnumOutputs, GetDesc, CheckInterfaceSupport                        uintptr
	GetDesc1                                                           uintptr
}

type dxgiOutput struct{ vtbl *dxgiOutputVtbl }

type dxgiOutputVtbl struct {
	QueryInterface, AddRef, Release uintptr
}

func createFactory1() (*factory1, error) {
	var f *factory1
	ret, _, _ := syscall.Syscall(procCreateDXGIFactory1.Addr(), 2,
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)), uintptr(unsafe.Pointer(&f)), 0)
	if int32(ret) < 0 {
		return nil, errors.Errorf("dxgidup: CreateDXGIFactory1 HRESULT 0x%08X", uint32(ret))
	}
	return f, nil
}

func (f *factory1) enumAdapters1(index uint32) (*adapter1, error) {
	var a *adapter1
	ret, _, _ := syscall.Syscall(f.vtbl.EnumAdapters1, 3,
		uintptr(unsafe.Pointer(f)), uintptr(index), uintptr(unsafe.Pointer(&a)))
	if int32(ret) < 0 {
		return nil, errors.Errorf("dxgidup: EnumAdapters1 HRESULT 0x%08X", uint32(ret))
	}
	return a, nil
}

func (f *factory1) release() {
	syscall.Syscall(f.vtbl.Release, 1, uintptr(unsafe.Pointer(f)), 0, 0)
}

func (a *adapter1) enumOutputs(index uint32) (*dxgiOutput, error) {
	var o *dxgiOutput
	ret, _, _ := syscall.Syscall(a.vtbl.EnumOutputs, 3,
		uintptr(unsafe.Pointer(a)), uintptr(index), uintptr(unsafe.Pointer(&o)))
	if int32(ret) < 0 {
		return nil, errors.Errorf("dxgidup: EnumOutputs HRESULT 0x%08X", uint32(ret))
	}
	return o, nil
}

func (a *adapter1) release() {
	syscall.Syscall(a.vtbl.Release, 1, uintptr(unsafe.Pointer(a)), 0, 0)
}

func (o *dxgiOutput) release() {
	syscall.Syscall(o.vtbl.Release, 1, uintptr(unsafe.Pointer(o)), 0, 0)
}
