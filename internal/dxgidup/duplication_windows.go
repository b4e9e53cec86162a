//go:build windows

package dxgidup

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/lizardbyte/sunshine-wgc/internal/capture"
	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
)

var iidIDXGIOutput1 = d3d11.GUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}

type output1 struct{ vtbl *output1Vtbl }

type output1Vtbl struct {
	QueryInterface, AddRef, Release                             uintptr
	SetPrivateData, SetPrivateDataInterface, GetPrivateData, GetParent uintptr
	GetDesc, GetDisplayModeList, FindClosestMatchingMode, WaitForVBlank uintptr
	TakeOwnership, ReleaseOwnership, GetGammaControlCapabilities       uintptr
	SetGammaControl, GetGammaControl, SetDisplaySurface, GetDisplaySurfaceData uintptr
	GetFrameStatistics uintptr
	GetDisplayModeList1, FindClosestMatchingMode1, GetDisplaySurfaceData1 uintptr
	DuplicateOutput    uintptr
}

type outputDuplication struct{ vtbl *outputDuplicationVtbl }

type outputDuplicationVtbl struct {
	QueryInterface, AddRef, Release uintptr
	GetDesc                         uintptr
	AcquireNextFrame                uintptr
	GetFrameDirtyRects              uintptr
	GetFrameMoveRects               uintptr
	GetFramePointerShape            uintptr
	MapDesktopSurface               uintptr
	UnMapDesktopSurface             uintptr
	ReleaseFrame                    uintptr
}

// outputDuplFrameInfo mirrors DXGI_OUTDUPL_FRAME_INFO; nothing in it is
// read here, so the struct just needs to be the right size for the call.
type outputDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPosition           [12]byte
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

func queryOutput1(adapterOutput uintptr) (*output1, error) {
	type iunknown struct{ vtbl *struct{ QueryInterface, AddRef, Release uintptr } }
	obj := (*iunknown)(unsafe.Pointer(adapterOutput))
	var out *output1
	ret, _, _ := syscall.Syscall(obj.vtbl.QueryInterface, 3,
		adapterOutput, uintptr(unsafe.Pointer(&iidIDXGIOutput1)), uintptr(unsafe.Pointer(&out)))
	if int32(ret) < 0 {
		return nil, errors.Errorf("dxgidup: QueryInterface(IDXGIOutput1) HRESULT 0x%08X", uint32(ret))
	}
	return out, nil
}

func (o *output1) duplicateOutput(device *d3d11.Device) (*outputDuplication, error) {
	var dup *outputDuplication
	ret, _, _ := syscall.Syscall(o.vtbl.DuplicateOutput, 3,
		uintptr(unsafe.Pointer(o)), uintptr(unsafe.Pointer(device)), uintptr(unsafe.Pointer(&dup)))
	if int32(ret) < 0 {
		return nil, errors.Errorf("dxgidup: DuplicateOutput HRESULT 0x%08X", uint32(ret))
	}
	return dup, nil
}

func (o *output1) release() {
	syscall.Syscall(o.vtbl.Release, 1, uintptr(unsafe.Pointer(o)), 0, 0)
}

// outputDuplicator is the real Windows implementation of the Duplicator
// interface, driving IDXGIOutputDuplication::AcquireNextFrame/ReleaseFrame
// directly. The desktop image arrives as an IDXGIResource, whose raw
// pointer is handed back as the captured image; it is not opened into an
// ID3D11Texture2D here.
type outputDuplicator struct {
	dup    *outputDuplication
	device *d3d11.Device
	held   bool
}

// NewDuplicator creates a D3D11 device on the primary adapter's first
// output and wraps its duplication interface.
func NewDuplicator() (*outputDuplicator, error) {
	f, err := createFactory1()
	if err != nil {
		return nil, err
	}
	defer f.release()

	adapter, err := f.enumAdapters1(0)
	if err != nil {
		return nil, errors.Wrap(err, "dxgidup: EnumAdapters1(0)")
	}
	defer adapter.release()

	device, _, err := d3d11.CreateDeviceOnAdapter(uintptr(unsafe.Pointer(adapter)))
	if err != nil {
		return nil, errors.Wrap(err, "dxgidup: create device")
	}

	out, err := adapter.enumOutputs(0)
	if err != nil {
		return nil, errors.Wrap(err, "dxgidup: EnumOutputs(0)")
	}
	defer out.release()

	out1, err := queryOutput1(uintptr(unsafe.Pointer(out)))
	if err != nil {
		return nil, err
	}
	defer out1.release()

	dup, err := out1.duplicateOutput(device)
	if err != nil {
		return nil, errors.Wrap(err, "dxgidup: DuplicateOutput")
	}
	return &outputDuplicator{dup: dup, device: device}, nil
}

func (d *outputDuplicator) AcquireNextFrame(timeout time.Duration) (capture.Image, error) {
	if d.held {
		if err := d.ReleaseFrame(); err != nil {
			return nil, err
		}
	}
	var resource uintptr
	var info outputDuplFrameInfo
	ret, _, _ := syscall.Syscall6(d.dup.vtbl.AcquireNextFrame, 4,
		uintptr(unsafe.Pointer(d.dup)), uintptr(timeout/time.Millisecond),
		uintptr(unsafe.Pointer(&info)), uintptr(unsafe.Pointer(&resource)), 0, 0)
	const dxgiErrorWaitTimeout = 0x887A0027
	if uint32(ret) == dxgiErrorWaitTimeout {
		return nil, ErrTimeout
	}
	if int32(ret) < 0 {
		return nil, errors.Errorf("dxgidup: AcquireNextFrame HRESULT 0x%08X", uint32(ret))
	}
	d.held = true
	return resource, nil
}

func (d *outputDuplicator) ReleaseFrame() error {
	if !d.held {
		return nil
	}
	ret, _, _ := syscall.Syscall(d.dup.vtbl.ReleaseFrame, 1, uintptr(unsafe.Pointer(d.dup)), 0, 0)
	d.held = false
	if int32(ret) < 0 {
		return errors.Errorf("dxgidup: ReleaseFrame HRESULT 0x%08X", uint32(ret))
	}
	return nil
}
