//go:build windows

package wgc

import (
	"strings"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
)

var (
	moduser32 = windows.NewLazySystemDLL("user32.dll")

	procSetProcessDpiAwarenessContext = moduser32.NewProc("SetProcessDpiAwarenessContext")
	procEnumDisplayMonitors           = moduser32.NewProc("EnumDisplayMonitors")
	procGetMonitorInfoW               = moduser32.NewProc("GetMonitorInfoW")
	procMonitorFromPoint              = moduser32.NewProc("MonitorFromPoint")
)

// dpiAwarenessContextPerMonitorAwareV2 is DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2
// (-4 as the documented sentinel handle value). Raising to this is the
// single most load-bearing line in the helper's startup path: without it
// WGC captures the logical (DPI-virtualized) desktop and every frame comes
// out visibly downscaled on a HiDPI display.
const dpiAwarenessContextPerMonitorAwareV2 = ^uintptr(3) // (DPI_AWARENESS_CONTEXT)(-4)

// RaisePerMonitorDPIAwareness must be called once, early, on the helper's
// main thread before any monitor enumeration or capture-item creation.
func RaisePerMonitorDPIAwareness() error {
	ret, _, err := procSetProcessDpiAwarenessContext.Call(dpiAwarenessContextPerMonitorAwareV2)
	if ret == 0 {
		return errors.Wrap(err, "SetProcessDpiAwarenessContext(PER_MONITOR_AWARE_V2)")
	}
	return nil
}

type rect struct{ Left, Top, Right, Bottom int32 }

// monitorInfoEx mirrors MONITORINFOEXW.
type monitorInfoEx struct {
	cbSize    uint32
	rcMonitor rect
	rcWork    rect
	dwFlags   uint32
	szDevice  [32]uint16
}

const monitorDefaultToPrimary = 1

// monitorByDeviceName enumerates display monitors looking for one whose GDI
// device name (e.g. `\\.\DISPLAY1`) matches name; falls back to the
// primary monitor on no match or empty name.
func monitorByDeviceName(name string) (windows.Handle, error) {
	var found windows.Handle
	if name != "" {
		cb := syscall.NewCallback(func(hmon windows.Handle, _ uintptr, _ uintptr, _ uintptr) uintptr {
			var mi monitorInfoEx
			mi.cbSize = uint32(unsafe.Sizeof(mi))
			ret, _, _ := procGetMonitorInfoW.Call(uintptr(hmon), uintptr(unsafe.Pointer(&mi)))
			if ret != 0 && strings.EqualFold(windows.UTF16ToString(mi.szDevice[:]), name) {
				found = hmon
				return 0 // stop enumeration
			}
			return 1 // continue
		})
		procEnumDisplayMonitors.Call(0, 0, cb, 0)
	}
	if found != 0 {
		return found, nil
	}
	// Primary monitor fallback: MonitorFromPoint(origin, MONITOR_DEFAULTTOPRIMARY).
	ret, _, _ := procMonitorFromPoint.Call(0, 0, monitorDefaultToPrimary)
	if ret == 0 {
		return 0, errors.New("wgc: no primary monitor found")
	}
	return windows.Handle(ret), nil
}

// dxgiDeviceFromD3D11Device queries the IDXGIDevice face every ID3D11Device
// exposes, needed to wrap the device as the WinRT IDirect3DDevice the frame
// pool's CreateFreeThreaded requires.
var iidIDXGIDevice = d3d11.GUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}

func dxgiDeviceFromD3D11Device(dev *d3d11.Device) (uintptr, error) {
	return queryInterface(uintptr(unsafe.Pointer(dev)), &iidIDXGIDevice)
}

// Format selects the shared-texture pixel format: SDR is B8G8R8A8_UNORM,
// HDR is R16G16B16A16_FLOAT.
type Format int

const (
	FormatSDR Format = iota
	FormatHDR
)

func (f Format) d3d11Format() d3d11.Format {
	if f == FormatHDR {
		return d3d11.FormatR16G16B16A16Float
	}
	return d3d11.FormatB8G8R8A8Unorm
}

// winrtPixelFormat values are DirectXPixelFormat enum members (which share
// DXGI_FORMAT's numeric space): B8G8R8A8UIntNormalized = 87,
// R16G16B16A16Float = 10, matching internal/d3d11's Format constants
// exactly since both are projections of the same DXGI_FORMAT enum.
func (f Format) winrtPixelFormat() uint32 { return uint32(f.d3d11Format()) }

const framePoolBufferCount = 2

// Session owns one WGC capture item/frame-pool/session triple and the
// D3D11 device it was opened on. The shared keyed-mutex texture frames
// are copied into is not held here; the helper allocates it separately.
type Session struct {
	device     *d3d11.Device
	ctx        *d3d11.DeviceContext
	item       uintptr
	pool       uintptr
	session    uintptr
	delToken   int64
	delRelease func()

	onFrame func(src *d3d11.Texture2D)
}

// OpenSession creates a D3D11 device on luid, opens a WGC item for the
// named monitor (falling back to primary), and creates a free-threaded
// frame pool + capture session sized to the item's physical dimensions.
// onFrame is invoked on the WGC delivery thread for every frame; it must
// not block (the acquire/copy/release/send body is all bounded operations).
func OpenSession(luid d3d11.LUID, monitorDeviceName string, format Format, onFrame func(src *d3d11.Texture2D)) (*Session, sizeInt32, error) {
	if err := roInitializeMultithreaded(); err != nil {
		return nil, sizeInt32{}, err
	}

	dev, ctx, err := d3d11.OpenAdapterByLUID(luid)
	if err != nil {
		return nil, sizeInt32{}, errors.Wrap(err, "wgc: open device on adapter")
	}

	hmon, err := monitorByDeviceName(monitorDeviceName)
	if err != nil {
		dev.Release()
		return nil, sizeInt32{}, err
	}
	item, err := createItemForMonitor(uintptr(hmon))
	if err != nil {
		dev.Release()
		return nil, sizeInt32{}, err
	}
	size, err := itemSize(item)
	if err != nil {
		release(item)
		dev.Release()
		return nil, sizeInt32{}, err
	}

	dxgiDevice, err := dxgiDeviceFromD3D11Device(dev)
	if err != nil {
		release(item)
		dev.Release()
		return nil, sizeInt32{}, errors.Wrap(err, "wgc: QueryInterface(IDXGIDevice)")
	}
	d3dDevice, err := createDirect3D11DeviceFromDXGIDevice(dxgiDevice)
	release(dxgiDevice)
	if err != nil {
		release(item)
		dev.Release()
		return nil, sizeInt32{}, err
	}
	defer release(d3dDevice)

	pool, err := createFramePoolFreeThreaded(d3dDevice, format.winrtPixelFormat(), framePoolBufferCount, size)
	if err != nil {
		release(item)
		dev.Release()
		return nil, sizeInt32{}, err
	}

	captureSession, err := framePoolCreateCaptureSession(pool, item)
	if err != nil {
		release(pool)
		release(item)
		dev.Release()
		return nil, sizeInt32{}, err
	}

	s := &Session{device: dev, ctx: ctx, item: item, pool: pool, session: captureSession, onFrame: onFrame}

	delegate, delRelease := newFrameArrivedDelegate(s.handleFrameArrived)
	token, err := framePoolAddFrameArrived(pool, delegate)
	if err != nil {
		delRelease()
		s.Close()
		return nil, sizeInt32{}, err
	}
	s.delToken, s.delRelease = token, delRelease

	if err := sessionStartCapture(captureSession); err != nil {
		s.Close()
		return nil, sizeInt32{}, err
	}

	return s, size, nil
}

func (s *Session) handleFrameArrived(pool uintptr) {
	frame, err := framePoolTryGetNextFrame(pool)
	if err != nil || frame == 0 {
		return
	}
	defer closeFrame(frame)

	surface, err := frameSurface(frame)
	if err != nil {
		return
	}
	defer release(surface)

	tex, err := surfaceD3D11Texture(surface)
	if err != nil {
		return
	}
	defer tex.Release()

	if s.onFrame != nil {
		s.onFrame(tex)
	}
}

// Device exposes the session's D3D11 device, e.g. for allocating the
// shared keyed-mutex texture on the exact device the WGC frames arrive on.
func (s *Session) Device() *d3d11.Device { return s.device }

// CopyContext returns the immediate context used for CopyResource from a
// captured frame's surface into the shared texture.
func (s *Session) CopyContext() *d3d11.DeviceContext { return s.ctx }

// Close tears down the capture session, frame pool, and item, in reverse
// construction order.
func (s *Session) Close() {
	if s.delRelease != nil {
		framePoolRemoveFrameArrived(s.pool, s.delToken)
		s.delRelease()
	}
	release(s.session)
	release(s.pool)
	release(s.item)
	if s.ctx != nil {
		s.ctx.Release()
	}
	if s.device != nil {
		s.device.Release()
	}
}
