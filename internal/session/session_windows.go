//go:build windows

package session

import (
	"time"

	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

// d3d11KeyedMutex adapts *d3d11.KeyedMutex to the KeyedMutex interface this
// package's state machine drives.
type d3d11KeyedMutex struct {
	m *d3d11.KeyedMutex
}

func (k d3d11KeyedMutex) AcquireSync(key uint64, timeout time.Duration) (MutexWaitOutcome, error) {
	res, err := k.m.AcquireSync(key, uint32(timeout/time.Millisecond))
	switch res {
	case d3d11.AcquireOK:
		return MutexAcquired, nil
	case d3d11.AcquireAbandoned:
		return MutexAbandoned, nil
	default:
		return MutexTimedOut, err
	}
}

func (k d3d11KeyedMutex) ReleaseSync(key uint64) error {
	return k.m.ReleaseSync(key)
}

// NewOpenTextureFunc builds the production OpenTextureFunc: it opens a
// D3D11 device on the adapter named by luid (the same one the helper used;
// shared textures are only interchangeable across devices on the same
// adapter), duplicates the shared texture handle into it, and obtains the
// keyed-mutex face.
func NewOpenTextureFunc(luid ipc.AdapterLUID) OpenTextureFunc {
	return func(handle uint64, width, height uint32) (KeyedMutex, GPUTexture, error) {
		dev, _, err := d3d11.OpenAdapterByLUID(d3d11.LUID{LowPart: luid.Low, HighPart: luid.High})
		if err != nil {
			return nil, nil, err
		}
		tex, err := dev.OpenSharedTexture(uintptr(handle))
		if err != nil {
			dev.Release()
			return nil, nil, err
		}
		mutex, err := tex.KeyedMutex()
		if err != nil {
			tex.Release()
			dev.Release()
			return nil, nil, err
		}
		return d3d11KeyedMutex{m: mutex}, tex, nil
	}
}
