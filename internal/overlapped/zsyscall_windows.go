//go:build windows

package overlapped

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

var procConnectNamedPipe = modkernel32.NewProc("ConnectNamedPipe")

// connectNamedPipe is not exposed by golang.org/x/sys/windows.
func connectNamedPipe(pipe windows.Handle, o *windows.Overlapped) error {
	r1, _, e1 := syscall.Syscall(procConnectNamedPipe.Addr(), 2, uintptr(pipe), uintptr(unsafe.Pointer(o)), 0)
	if r1 == 0 {
		if e1 != 0 {
			return e1
		}
		return syscall.EINVAL
	}
	return nil
}
