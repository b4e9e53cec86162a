//go:build windows

package d3d11

import (
	"syscall"
	"unsafe"
)

// DeviceContext wraps an ID3D11DeviceContext COM pointer. Only CopyResource
// is needed: the helper's frame handler copies the WGC surface into the
// shared texture under the writer key.
type DeviceContext struct {
	vtbl *id3d11DeviceContextVtbl
}

// id3d11DeviceContextVtbl only needs CopyResource's offset to be correct;
// every slot before it is still declared so the struct's memory layout
// matches the real vtable.
type id3d11DeviceContextVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr

	GetDevice               uintptr
	GetPrivateData          uintptr
	SetPrivateData          uintptr
	SetPrivateDataInterface uintptr

	VSSetConstantBuffers                      uintptr
	PSSetShaderResources                      uintptr
	PSSetShader                               uintptr
	PSSetSamplers                             uintptr
	VSSetShader                               uintptr
	DrawIndexed                               uintptr
	Draw                                      uintptr
	Map                                       uintptr
	Unmap                                     uintptr
	PSSetConstantBuffers                      uintptr
	IASetInputLayout                          uintptr
	IASetVertexBuffers                        uintptr
	IASetIndexBuffer                          uintptr
	DrawIndexedInstanced                      uintptr
	DrawInstanced                             uintptr
	GSSetConstantBuffers                      uintptr
	GSSetShader                               uintptr
	IASetPrimitiveTopology                    uintptr
	VSSetShaderResources                      uintptr
	VSSetSamplers                             uintptr
	Begin                                     uintptr
	End                                       uintptr
	GetData                                   uintptr
	SetPredication                            uintptr
	GSSetShaderResources                      uintptr
	GSSetSamplers                             uintptr
	OMSetRenderTargets                        uintptr
	OMSetRenderTargetsAndUnorderedAccessViews uintptr
	OMSetBlendState                           uintptr
	OMSetDepthStencilState                    uintptr
	SOSetTargets                              uintptr
	DrawAuto                                  uintptr
	DrawIndexedInstancedIndirect              uintptr
	DrawInstancedIndirect                     uintptr
	Dispatch                                  uintptr
	DispatchIndirect                          uintptr
	RSSetState                                uintptr
	RSSetViewports                            uintptr
	RSSetScissorRects                         uintptr
	CopySubresourceRegion                     uintptr
	CopyResource                              uintptr
}

// CopyResource copies the entire source resource (the WGC frame surface)
// into the destination resource (the shared texture), matching
// ID3D11DeviceContext::CopyResource's signature.
func (c *DeviceContext) CopyResource(dst, src uintptr) {
	syscall.Syscall(c.vtbl.CopyResource, 3, uintptr(unsafe.Pointer(c)), dst, src)
}

// Release decrements the COM reference count.
func (c *DeviceContext) Release() uint32 {
	ret, _, _ := syscall.Syscall(c.vtbl.Release, 1, uintptr(unsafe.Pointer(c)), 0, 0)
	return uint32(ret)
}
