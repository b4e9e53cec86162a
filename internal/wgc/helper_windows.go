//go:build windows

package wgc

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

// capturePipeline wraps the WGC *Session with the pixel format it was
// opened at, since NewSharedSurfaceFunc needs to allocate the shared
// texture at the same format the frame pool delivers.
type capturePipeline struct {
	*Session
	format Format
}

// openCaptureWGC is the production OpenCaptureFunc: it opens a D3D11
// device on the host-selected adapter and a WGC item for the host-selected
// monitor. HelperConfig.DisplayName carries the target monitor's GDI
// device name; DynamicRange selects SDR vs HDR pixel format.
func openCaptureWGC(cfg ipc.HelperConfig, onFrame func(src GPUSurface)) (FrameSource, uint32, uint32, error) {
	format := FormatSDR
	if cfg.DynamicRange != 0 {
		format = FormatHDR
	}
	luid := d3d11.LUID{LowPart: cfg.AdapterLUID.Low, HighPart: cfg.AdapterLUID.High}

	sess, size, err := OpenSession(luid, cfg.DisplayName, format, func(tex *d3d11.Texture2D) {
		onFrame(tex)
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return &capturePipeline{Session: sess, format: format}, uint32(size.Width), uint32(size.Height), nil
}

// d3d11SharedSurface adapts the shared keyed-mutex texture's three COM
// faces (texture, keyed mutex, DXGI resource) to the SharedSurface
// interface Helper.Run drives.
type d3d11SharedSurface struct {
	ctx      *d3d11.DeviceContext
	tex      *d3d11.Texture2D
	mutex    *d3d11.KeyedMutex
	resource *d3d11.Resource
}

// newD3D11SharedSurface allocates the shared texture on the same device
// the capture session opened, at the session's physical frame size.
func newD3D11SharedSurface(source FrameSource, width, height uint32) (SharedSurface, error) {
	pipeline, ok := source.(*capturePipeline)
	if !ok {
		return nil, errors.New("wgc: capture source is not a WGC capture pipeline")
	}

	tex, err := pipeline.Device().CreateSharedKeyedMutexTexture(width, height, pipeline.format.d3d11Format())
	if err != nil {
		return nil, errors.Wrap(err, "wgc: create shared keyed-mutex texture")
	}
	mutex, err := tex.KeyedMutex()
	if err != nil {
		tex.Release()
		return nil, errors.Wrap(err, "wgc: query IDXGIKeyedMutex")
	}
	resource, err := tex.DXGIResource()
	if err != nil {
		mutex.Release()
		tex.Release()
		return nil, errors.Wrap(err, "wgc: query IDXGIResource")
	}
	return &d3d11SharedSurface{
		ctx:      pipeline.CopyContext(),
		tex:      tex,
		mutex:    mutex,
		resource: resource,
	}, nil
}

func (s *d3d11SharedSurface) AcquireSync(key uint64, timeout time.Duration) (MutexWaitOutcome, error) {
	res, err := s.mutex.AcquireSync(key, uint32(timeout/time.Millisecond))
	switch res {
	case d3d11.AcquireOK:
		return MutexAcquired, nil
	case d3d11.AcquireAbandoned:
		return MutexAbandoned, nil
	default:
		return MutexTimedOut, err
	}
}

func (s *d3d11SharedSurface) ReleaseSync(key uint64) error {
	return s.mutex.ReleaseSync(key)
}

// CopyFrame copies the just-captured WGC surface into the shared texture
// under the writer key.
func (s *d3d11SharedSurface) CopyFrame(src GPUSurface) error {
	tex, ok := src.(*d3d11.Texture2D)
	if !ok || tex == nil {
		return errors.New("wgc: frame source is not a D3D11 texture")
	}
	s.ctx.CopyResource(s.tex.Ptr(), tex.Ptr())
	return nil
}

// SharedHandle returns the texture's cross-process NT handle, published
// to the host as SharedHandleData.TextureHandle.
func (s *d3d11SharedSurface) SharedHandle() (uint64, error) {
	h, err := s.resource.GetSharedHandle()
	if err != nil {
		return 0, err
	}
	return uint64(h), nil
}

func (s *d3d11SharedSurface) Close() {
	s.resource.Release()
	s.mutex.Release()
	s.tex.Release()
}

// qpcNow reads QueryPerformanceCounter for the frame-ready timestamp.
func qpcNow() uint64 {
	var c int64
	if err := windows.QueryPerformanceCounter(&c); err != nil {
		return 0
	}
	return uint64(c)
}

// NewDesktopHook constructs the production secure-desktop detector.
func NewDesktopHook(log *logrus.Entry) DesktopHook {
	return &DesktopSwitchHook{log: log}
}

// NewDefaultConfig builds the production Helper Config: real WGC capture,
// real shared-texture allocation, real QPC clock, and (unless hook is
// nil) the WinEventHook secure-desktop detector.
func NewDefaultConfig(parentPID int, transport ipc.Transport, hook DesktopHook) Config {
	return Config{
		ParentPID:        parentPID,
		Transport:        transport,
		OpenCapture:      openCaptureWGC,
		NewSharedSurface: newD3D11SharedSurface,
		DesktopHook:      hook,
		QPCNow:           qpcNow,
	}
}
