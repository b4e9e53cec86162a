//go:build windows

// This file hand-rolls the slice of the WinRT ABI the capture path needs,
// using the same vtable-struct + syscall calling convention internal/d3d11
// uses for classic COM. WinRT interfaces are COM interfaces that derive
// from IInspectable
// (QueryInterface/AddRef/Release/GetIids/GetRuntimeClassName/GetTrustLevel)
// instead of bare IUnknown, so every vtable here carries that six-slot
// header before its interface-specific methods. Interface GUIDs and method
// orderings come from the windows.graphics.capture.interop.h /
// windows.graphics.capture.h / windows.graphics.directx.direct3d11.interop.h
// SDK headers.

package wgc

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
)

// HRESULTError wraps a non-zero HRESULT, mirroring internal/d3d11's type so
// callers can treat both packages' errors uniformly.
type HRESULTError uintptr

func (e HRESULTError) Error() string { return errorf("wgc: HRESULT 0x%08X", uintptr(e)) }

func errorf(format string, args ...interface{}) string {
	return errors.Errorf(format, args...).Error()
}

func hresult(ret uintptr) error {
	if int32(ret) < 0 {
		return HRESULTError(ret)
	}
	return nil
}

// --- WinRT runtime bootstrap (combase.dll) ---

var (
	modcombase = windows.NewLazySystemDLL("combase.dll")

	procRoInitialize           = modcombase.NewProc("RoInitialize")
	procRoGetActivationFactory = modcombase.NewProc("RoGetActivationFactory")
	procWindowsCreateString    = modcombase.NewProc("WindowsCreateString")
	procWindowsDeleteString    = modcombase.NewProc("WindowsDeleteString")
)

const roInitMultithreaded = 1

// hstring wraps an HSTRING, the WinRT immutable-string handle used to name
// runtime classes for activation.
type hstring uintptr

func newHString(s string) (hstring, error) {
	u16, err := windows.UTF16FromString(s)
	if err != nil {
		return 0, err
	}
	var h hstring
	ret, _, _ := syscall.Syscall(procWindowsCreateString.Addr(), 3,
		uintptr(unsafe.Pointer(&u16[0])), uintptr(len(u16)-1), uintptr(unsafe.Pointer(&h)))
	if err := hresult(ret); err != nil {
		return 0, errors.Wrap(err, "WindowsCreateString")
	}
	return h, nil
}

func (h hstring) delete() {
	if h != 0 {
		syscall.Syscall(procWindowsDeleteString.Addr(), 1, uintptr(h), 0, 0)
	}
}

// roInitializeMultithreaded initializes the WinRT runtime on the calling
// thread as multithreaded; OpenSession calls it on the thread that opens
// the capture session. This is distinct from the apartment-threaded COM
// init internal/comruntime performs on the WinEventHook's own
// message-pump thread.
func roInitializeMultithreaded() error {
	ret, _, _ := syscall.Syscall(procRoInitialize.Addr(), 1, roInitMultithreaded, 0, 0)
	const sFalseAlreadyInit = 0x1 // S_FALSE: already initialized on this thread, not an error
	if ret != 0 && ret != sFalseAlreadyInit {
		return hresult(ret)
	}
	return nil
}

func getActivationFactory(runtimeClass string, iid *d3d11.GUID) (uintptr, error) {
	h, err := newHString(runtimeClass)
	if err != nil {
		return 0, err
	}
	defer h.delete()

	var out uintptr
	ret, _, _ := syscall.Syscall(procRoGetActivationFactory.Addr(), 3,
		uintptr(h), uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	if err := hresult(ret); err != nil {
		return 0, errors.Wrapf(err, "RoGetActivationFactory(%s)", runtimeClass)
	}
	return out, nil
}

// --- Well-known interface GUIDs ---

var (
	iidIGraphicsCaptureItemInterop         = d3d11.GUID{0x3628e81b, 0x3cac, 0x4c60, [8]byte{0xb7, 0xf4, 0x23, 0xce, 0x0e, 0x0c, 0x33, 0x56}}
	iidIGraphicsCaptureItem                = d3d11.GUID{0x79c3f95b, 0x31f7, 0x4ec2, [8]byte{0xa4, 0x64, 0x63, 0x2e, 0xf5, 0xd3, 0x07, 0x60}}
	iidIDirect3D11CaptureFramePoolStatics2 = d3d11.GUID{0x589b103f, 0x6bae, 0x4a1e, [8]byte{0xb4, 0xb6, 0xba, 0xea, 0x3a, 0x4b, 0x42, 0x08}}
	iidIDirect3DDxgiInterfaceAccess        = d3d11.GUID{0xa9b3d012, 0x3df2, 0x4ee3, [8]byte{0xb8, 0xd1, 0x86, 0x95, 0xf4, 0x57, 0xd3, 0xc1}}
	iidIClosable                           = d3d11.GUID{0x30d5a829, 0x7fa4, 0x4026, [8]byte{0x83, 0xbb, 0xd7, 0x5b, 0xae, 0x4e, 0xa9, 0x9e}}
)

// inspectableVtbl is the six-slot IInspectable header every WinRT interface
// vtable begins with.
type inspectableVtbl struct {
	QueryInterface      uintptr
	AddRef              uintptr
	Release             uintptr
	GetIids             uintptr
	GetRuntimeClassName uintptr
	GetTrustLevel       uintptr
}

func queryInterface(obj uintptr, iid *d3d11.GUID) (uintptr, error) {
	type withHeader struct{ vtbl *inspectableVtbl }
	o := (*withHeader)(unsafe.Pointer(obj))
	var out uintptr
	ret, _, _ := syscall.Syscall(o.vtbl.QueryInterface, 3, obj, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return out, nil
}

func release(obj uintptr) {
	if obj == 0 {
		return
	}
	type withHeader struct{ vtbl *inspectableVtbl }
	o := (*withHeader)(unsafe.Pointer(obj))
	syscall.Syscall(o.vtbl.Release, 1, obj, 0, 0)
}

// --- IGraphicsCaptureItemInterop (classic COM factory method; not WinRT) ---

type graphicsCaptureItemInterop struct{ vtbl *graphicsCaptureItemInteropVtbl }

type graphicsCaptureItemInteropVtbl struct {
	QueryInterface, AddRef, Release uintptr
	CreateForWindow                 uintptr
	CreateForMonitor                uintptr
}

// createItemForMonitor activates GraphicsCaptureItem for hmonitor via the
// classic-COM interop factory (there is no public WinRT constructor for
// this runtime class; CreateForMonitor is how every native caller,
// including Sunshine's own C++ implementation, obtains one).
func createItemForMonitor(hmonitor uintptr) (uintptr, error) {
	factory, err := getActivationFactory("Windows.Graphics.Capture.GraphicsCaptureItem", &iidIGraphicsCaptureItemInterop)
	if err != nil {
		return 0, err
	}
	interop := (*graphicsCaptureItemInterop)(unsafe.Pointer(factory))
	defer release(factory)

	var item uintptr
	ret, _, _ := syscall.Syscall6(interop.vtbl.CreateForMonitor, 4,
		factory, hmonitor, uintptr(unsafe.Pointer(&iidIGraphicsCaptureItem)), uintptr(unsafe.Pointer(&item)), 0, 0)
	if err := hresult(ret); err != nil {
		return 0, errors.Wrap(err, "IGraphicsCaptureItemInterop::CreateForMonitor")
	}
	return item, nil
}

type sizeInt32 struct{ Width, Height int32 }

type graphicsCaptureItemVtbl struct {
	inspectableVtbl
	GetDisplayName uintptr
	GetSize        uintptr
	AddClosed      uintptr
	RemoveClosed   uintptr
}

func itemSize(item uintptr) (sizeInt32, error) {
	o := (*struct{ vtbl *graphicsCaptureItemVtbl })(unsafe.Pointer(item))
	var sz sizeInt32
	ret, _, _ := syscall.Syscall(o.vtbl.GetSize, 2, item, uintptr(unsafe.Pointer(&sz)), 0)
	if err := hresult(ret); err != nil {
		return sz, err
	}
	return sz, nil
}

// --- IDirect3D11CaptureFramePoolStatics / Statics2 ---

type framePoolStatics2 struct{ vtbl *framePoolStatics2Vtbl }

type framePoolStatics2Vtbl struct {
	inspectableVtbl
	Create             uintptr
	CreateFreeThreaded uintptr
}

// createFramePoolFreeThreaded creates a Direct3D11CaptureFramePool that
// delivers FrameArrived callbacks on an arbitrary thread pool thread rather
// than requiring a CoreDispatcher/DispatcherQueue; the helper's message
// pump exists for the desktop-switch hook, not for frame delivery.
func createFramePoolFreeThreaded(device uintptr, format uint32, numBuffers int32, size sizeInt32) (uintptr, error) {
	factory, err := getActivationFactory("Windows.Graphics.Capture.Direct3D11CaptureFramePool", &iidIDirect3D11CaptureFramePoolStatics2)
	if err != nil {
		return 0, err
	}
	defer release(factory)
	statics := (*framePoolStatics2)(unsafe.Pointer(factory))

	// SizeInt32 is 8 bytes and passed by value: its two int32 fields travel
	// packed into a single register-width argument on x64.
	sizeArg := uintptr(uint64(uint32(size.Width)) | uint64(uint32(size.Height))<<32)

	var pool uintptr
	ret, _, _ := syscall.Syscall6(statics.vtbl.CreateFreeThreaded, 6,
		factory, device, uintptr(format), uintptr(numBuffers), sizeArg, uintptr(unsafe.Pointer(&pool)))
	if err := hresult(ret); err != nil {
		return 0, errors.Wrap(err, "IDirect3D11CaptureFramePoolStatics2::CreateFreeThreaded")
	}
	return pool, nil
}

type framePoolVtbl struct {
	inspectableVtbl
	AddFrameArrived      uintptr
	RemoveFrameArrived   uintptr
	Recreate             uintptr
	TryGetNextFrame      uintptr
	CreateCaptureSession uintptr
}

func framePoolAddFrameArrived(pool uintptr, handler uintptr) (int64, error) {
	o := (*struct{ vtbl *framePoolVtbl })(unsafe.Pointer(pool))
	var token int64
	ret, _, _ := syscall.Syscall(o.vtbl.AddFrameArrived, 3, pool, handler, uintptr(unsafe.Pointer(&token)))
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return token, nil
}

func framePoolRemoveFrameArrived(pool uintptr, token int64) {
	o := (*struct{ vtbl *framePoolVtbl })(unsafe.Pointer(pool))
	syscall.Syscall(o.vtbl.RemoveFrameArrived, 2, pool, uintptr(token), 0)
}

func framePoolTryGetNextFrame(pool uintptr) (uintptr, error) {
	o := (*struct{ vtbl *framePoolVtbl })(unsafe.Pointer(pool))
	var frame uintptr
	ret, _, _ := syscall.Syscall(o.vtbl.TryGetNextFrame, 2, pool, uintptr(unsafe.Pointer(&frame)), 0)
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return frame, nil
}

func framePoolCreateCaptureSession(pool uintptr, item uintptr) (uintptr, error) {
	o := (*struct{ vtbl *framePoolVtbl })(unsafe.Pointer(pool))
	var session uintptr
	ret, _, _ := syscall.Syscall(o.vtbl.CreateCaptureSession, 3, pool, item, uintptr(unsafe.Pointer(&session)))
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return session, nil
}

// --- GraphicsCaptureSession ---

type captureSessionVtbl struct {
	inspectableVtbl
	StartCapture uintptr
}

func sessionStartCapture(session uintptr) error {
	o := (*struct{ vtbl *captureSessionVtbl })(unsafe.Pointer(session))
	ret, _, _ := syscall.Syscall(o.vtbl.StartCapture, 1, session, 0, 0)
	return hresult(ret)
}

// --- Direct3D11CaptureFrame ---

type captureFrameVtbl struct {
	inspectableVtbl
	GetSurface            uintptr
	GetContentSize        uintptr
	GetSystemRelativeTime uintptr
}

func frameSurface(frame uintptr) (uintptr, error) {
	o := (*struct{ vtbl *captureFrameVtbl })(unsafe.Pointer(frame))
	var surface uintptr
	ret, _, _ := syscall.Syscall(o.vtbl.GetSurface, 2, frame, uintptr(unsafe.Pointer(&surface)), 0)
	if err := hresult(ret); err != nil {
		return 0, err
	}
	return surface, nil
}

// closeFrame releases the frame's GPU surface back to the pool via
// IClosable::Close, reached through QueryInterface since Close does not sit
// on the frame's default interface.
func closeFrame(frame uintptr) {
	closable, err := queryInterface(frame, &iidIClosable)
	if err != nil {
		return
	}
	defer release(closable)
	type closableVtbl struct {
		inspectableVtbl
		Close uintptr
	}
	c := (*struct{ vtbl *closableVtbl })(unsafe.Pointer(closable))
	syscall.Syscall(c.vtbl.Close, 1, closable, 0, 0)
}

// --- IDirect3DDxgiInterfaceAccess: bridge from a WinRT IDirect3DSurface
// back to the underlying D3D11 COM object. The frame arrives as an
// IDirect3DSurface; the capture loop needs the raw ID3D11Texture2D to
// CopyResource from it. ---

type dxgiInterfaceAccessVtbl struct {
	QueryInterface, AddRef, Release uintptr
	GetInterface                    uintptr
}

func surfaceD3D11Texture(surface uintptr) (*d3d11.Texture2D, error) {
	access, err := queryInterface(surface, &iidIDirect3DDxgiInterfaceAccess)
	if err != nil {
		return nil, errors.Wrap(err, "QueryInterface(IDirect3DDxgiInterfaceAccess)")
	}
	defer release(access)
	o := (*struct{ vtbl *dxgiInterfaceAccessVtbl })(unsafe.Pointer(access))

	var tex uintptr
	ret, _, _ := syscall.Syscall(o.vtbl.GetInterface, 3,
		access, uintptr(unsafe.Pointer(&iidID3D11Texture2DLocal)), uintptr(unsafe.Pointer(&tex)))
	if err := hresult(ret); err != nil {
		return nil, errors.Wrap(err, "IDirect3DDxgiInterfaceAccess::GetInterface")
	}
	return (*d3d11.Texture2D)(unsafe.Pointer(tex)), nil
}

// iidID3D11Texture2DLocal mirrors internal/d3d11's unexported IID of the
// same name; duplicated here because that package does not export it.
var iidID3D11Texture2DLocal = d3d11.GUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}

// --- CreateDirect3D11DeviceFromDXGIDevice (d3d11.dll export): wraps a raw
// IDXGIDevice as the IDirect3DDevice the frame pool's Create/CreateFreeThreaded
// methods require. ---

var procCreateDirect3D11DeviceFromDXGIDevice = windows.NewLazySystemDLL("d3d11.dll").NewProc("CreateDirect3D11DeviceFromDXGIDevice")

func createDirect3D11DeviceFromDXGIDevice(dxgiDevice uintptr) (uintptr, error) {
	var inspectable uintptr
	ret, _, _ := syscall.Syscall(procCreateDirect3D11DeviceFromDXGIDevice.Addr(), 2,
		dxgiDevice, uintptr(unsafe.Pointer(&inspectable)), 0)
	if err := hresult(ret); err != nil {
		return 0, errors.Wrap(err, "CreateDirect3D11DeviceFromDXGIDevice")
	}
	return inspectable, nil
}
