//go:build windows

// Package d3d11 is a minimal, hand-rolled COM binding for the slice of the
// Direct3D 11 / DXGI vtable surface the capture subsystem needs: device
// creation, shared-keyed-mutex texture allocation, cross-process handle
// duplication, and the keyed mutex's AcquireSync/ReleaseSync pair. Vtable
// layouts are transcribed from the d3d11.h / dxgi.h interface definitions;
// each wrapper struct's sole field is the vtable pointer, so a COM pointer
// casts directly to the wrapper type.
package d3d11

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

// GUID mirrors the Windows GUID layout; kept distinct from internal/guid's
// random-identifier GUID since this one only ever holds well-known
// interface/format identifiers.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// LUID mirrors the Windows LUID (locally unique identifier) struct used for
// adapter identification.
type LUID struct {
	LowPart  uint32
	HighPart int32
}

// HRESULTError wraps a non-zero HRESULT returned from a COM call.
type HRESULTError uintptr

func (e HRESULTError) Error() string {
	return fmt.Sprintf("d3d11: HRESULT 0x%08X", uintptr(e))
}

func hresult(ret uintptr) error {
	if int32(ret) < 0 {
		return HRESULTError(ret)
	}
	return nil
}

// Well-known interface GUIDs (from d3d11.h / dxgi.h).
var (
	iidID3D11Texture2D = GUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
	iidIDXGIResource   = GUID{0x035f3ab4, 0x482e, 0x4e50, [8]byte{0xb4, 0x1f, 0x8a, 0x7f, 0x8b, 0xd8, 0x96, 0x0b}}
	iidIDXGIKeyedMutex = GUID{0x9d8e1289, 0xd7b3, 0x465f, [8]byte{0x81, 0x26, 0x25, 0x0e, 0x34, 0x9a, 0xf8, 0x5d}}
)

// DXGI_FORMAT values used by the shared texture: SDR uses B8G8R8A8_UNORM,
// HDR uses R16G16B16A16_FLOAT.
type Format uint32

const (
	FormatB8G8R8A8Unorm     Format = 87
	FormatR16G16B16A16Float Format = 10
)

// Texture2DDesc mirrors D3D11_TEXTURE2D_DESC for the subset of fields the
// shared-surface session needs to set.
type Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         Format
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// D3D11_RESOURCE_MISC_SHARED_KEYEDMUTEX, the flag required on a texture
// that will be opened via a keyed mutex in another process.
const ResourceMiscSharedKeyedMutex = 0x00000200

// D3D11_USAGE_DEFAULT.
const UsageDefault = 0

func loadProc(dll, name string) *syscall.LazyProc {
	return syscall.NewLazyDLL(dll).NewProc(name)
}

var procD3D11CreateDevice = loadProc("d3d11.dll", "D3D11CreateDevice")

// D3D_DRIVER_TYPE_UNKNOWN; callers always supply an explicit adapter, so
// the driver type is irrelevant (D3D11CreateDevice requires UNKNOWN when a
// non-nil adapter pointer is passed).
const driverTypeUnknown = 0

const createDeviceFlagBGRASupport = 0x00000020

// CreateDeviceOnAdapter creates a D3D11 device + immediate context on a
// specific IDXGIAdapter, as both host and helper must do so they open
// devices on the same adapter LUID.
func CreateDeviceOnAdapter(adapter uintptr) (*Device, *DeviceContext, error) {
	var dev *Device
	var ctx *DeviceContext
	featureLevels := []uint32{0xb000, 0xa100, 0xa000} // 11_0, 10_1, 10_0
	var obtainedLevel uint32

	ret, _, _ := syscall.Syscall12(procD3D11CreateDevice.Addr(), 10,
		adapter,
		driverTypeUnknown,
		0, // hModule (software rasterizer), unused
		createDeviceFlagBGRASupport,
		uintptr(unsafe.Pointer(&featureLevels[0])),
		uintptr(len(featureLevels)),
		7, // D3D11_SDK_VERSION
		uintptr(unsafe.Pointer(&dev)),
		uintptr(unsafe.Pointer(&obtainedLevel)),
		uintptr(unsafe.Pointer(&ctx)),
		0, 0,
	)
	if err := hresult(ret); err != nil {
		return nil, nil, errors.Wrap(err, "D3D11CreateDevice")
	}
	return dev, ctx, nil
}
