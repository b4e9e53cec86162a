//go:build windows

package d3d11

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

// ErrAdapterNotFound is returned by OpenAdapterByLUID when no enumerated
// adapter's LUID matches.
var ErrAdapterNotFound = errors.New("d3d11: no adapter with matching LUID")

var procCreateDXGIFactory1 = loadProc("dxgi.dll", "CreateDXGIFactory1")

var iidIDXGIFactory1 = GUID{0x770aae78, 0xf26f, 0x4dba, [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87}}
var iidIDXGIAdapter1 = GUID{0x29038f61, 0x3839, 0x4626, [8]byte{0x91, 0xfd, 0x08, 0x68, 0x79, 0x01, 0x1a, 0x05}}

type factory1 struct{ vtbl *factory1Vtbl }

type factory1Vtbl struct {
	QueryInterface, AddRef, Release                                           uintptr
	SetPrivateData, SetPrivateDataInterface, GetPrivateData, GetParent        uintptr
	EnumAdapters, MakeWindowAssociation, GetWindowAssociation, CreateSwapChain uintptr
	CreateSoftwareAdapter                                                     uintptr
	EnumAdapters1, IsCurrent                                                  uintptr
}

type adapter1 struct{ vtbl *adapter1Vtbl }

type adapter1Vtbl struct {
	QueryInterface, AddRef, Release                                    uintptr
	SetPrivateData, SetPrivateDataInterface, GetPrivateData, GetParent uintptr
	EnumOutputs, GetDesc, CheckInterfaceSupport                        uintptr
	GetDesc1                                                           uintptr
}

// adapterDesc1 mirrors DXGI_ADAPTER_DESC1; only the LUID is read, so the
// fields before it are represented as raw padding bytes.
type adapterDesc1 struct {
	_           [256 + 16]byte // Description[128] WCHAR + Vendor/Device/SubSys/Revision IDs
	_           [24]byte       // DedicatedVideoMemory/DedicatedSystemMemory/SharedSystemMemory SIZE_T
	AdapterLuid LUID
	Flags       uint32
}

func createFactory1() (*factory1, error) {
	var f *factory1
	ret, _, _ := syscall.Syscall(procCreateDXGIFactory1.Addr(), 2,
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)), uintptr(unsafe.Pointer(&f)), 0)
	if err := hresult(ret); err != nil {
		return nil, errors.Wrap(err, "CreateDXGIFactory1")
	}
	return f, nil
}

func (f *factory1) enumAdapters1(index uint32) (*adapter1, error) {
	var a *adapter1
	ret, _, _ := syscall.Syscall(f.vtbl.EnumAdapters1, 3,
		uintptr(unsafe.Pointer(f)), uintptr(index), uintptr(unsafe.Pointer(&a)))
	if err := hresult(ret); err != nil {
		return nil, err
	}
	return a, nil
}

func (f *factory1) release() {
	syscall.Syscall(f.vtbl.Release, 1, uintptr(unsafe.Pointer(f)), 0, 0)
}

func (a *adapter1) getDesc1() (adapterDesc1, error) {
	var desc adapterDesc1
	ret, _, _ := syscall.Syscall(a.vtbl.GetDesc1, 2,
		uintptr(unsafe.Pointer(a)), uintptr(unsafe.Pointer(&desc)), 0)
	if err := hresult(ret); err != nil {
		return desc, err
	}
	return desc, nil
}

func (a *adapter1) release() {
	syscall.Syscall(a.vtbl.Release, 1, uintptr(unsafe.Pointer(a)), 0, 0)
}

// OpenAdapterByLUID enumerates DXGI adapters until it finds one whose LUID
// matches, then creates a D3D11 device on it. This is how the host opens a
// device on the same adapter the helper used, given only the LUID
// transmitted in HelperConfig.
func OpenAdapterByLUID(luid LUID) (*Device, *DeviceContext, error) {
	f, err := createFactory1()
	if err != nil {
		return nil, nil, err
	}
	defer f.release()

	for i := uint32(0); ; i++ {
		a, err := f.enumAdapters1(i)
		if err != nil {
			break // DXGI_ERROR_NOT_FOUND: exhausted the adapter list
		}
		desc, err := a.getDesc1()
		if err == nil && desc.AdapterLuid == luid {
			dev, ctx, err := CreateDeviceOnAdapter(uintptr(unsafe.Pointer(a)))
			a.release()
			return dev, ctx, err
		}
		a.release()
	}
	return nil, nil, ErrAdapterNotFound
}

// PrimaryAdapterLUID returns adapter 0's LUID, used by the host as the
// default when no adapter LUID was given on its command line.
func PrimaryAdapterLUID() (LUID, error) {
	f, err := createFactory1()
	if err != nil {
		return LUID{}, err
	}
	defer f.release()
	a, err := f.enumAdapters1(0)
	if err != nil {
		return LUID{}, errors.Wrap(err, "EnumAdapters1(0)")
	}
	defer a.release()
	desc, err := a.getDesc1()
	if err != nil {
		return LUID{}, err
	}
	return desc.AdapterLuid, nil
}
