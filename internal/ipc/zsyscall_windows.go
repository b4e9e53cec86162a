//go:build windows

// Bindings for the named-pipe and security-descriptor APIs that
// golang.org/x/sys/windows does not export.

package ipc

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modadvapi32 = windows.NewLazySystemDLL("advapi32.dll")
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modwtsapi32 = windows.NewLazySystemDLL("wtsapi32.dll")

	procLookupAccountNameW                                   = modadvapi32.NewProc("LookupAccountNameW")
	procConvertSidToStringSidW                               = modadvapi32.NewProc("ConvertSidToStringSidW")
	procConvertStringSecurityDescriptorToSecurityDescriptorW = modadvapi32.NewProc("ConvertStringSecurityDescriptorToSecurityDescriptorW")
	procGetSecurityDescriptorLength                          = modadvapi32.NewProc("GetSecurityDescriptorLength")

	procCreateNamedPipeW    = modkernel32.NewProc("CreateNamedPipeW")
	procDisconnectNamedPipe = modkernel32.NewProc("DisconnectNamedPipe")
	procGetNamedPipeInfo    = modkernel32.NewProc("GetNamedPipeInfo")
	procFlushFileBuffers    = modkernel32.NewProc("FlushFileBuffers")

	procWTSQueryUserToken = modwtsapi32.NewProc("WTSQueryUserToken")
)

func errnoErr(e syscall.Errno) error {
	if e == 0 {
		return syscall.EINVAL
	}
	return e
}

func lookupAccountName(systemName *uint16, accountName string, sid *byte, sidSize *uint32, refDomain *uint16, refDomainSize *uint32, sidNameUse *uint32) error {
	accountNamePtr, err := syscall.UTF16PtrFromString(accountName)
	if err != nil {
		return err
	}
	r1, _, e1 := syscall.Syscall9(procLookupAccountNameW.Addr(), 7,
		uintptr(unsafe.Pointer(systemName)), uintptr(unsafe.Pointer(accountNamePtr)),
		uintptr(unsafe.Pointer(sid)), uintptr(unsafe.Pointer(sidSize)),
		uintptr(unsafe.Pointer(refDomain)), uintptr(unsafe.Pointer(refDomainSize)),
		uintptr(unsafe.Pointer(sidNameUse)), 0, 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func convertSidToStringSid(sid *byte, str **uint16) error {
	r1, _, e1 := syscall.Syscall(procConvertSidToStringSidW.Addr(), 2, uintptr(unsafe.Pointer(sid)), uintptr(unsafe.Pointer(str)), 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func convertStringSecurityDescriptorToSecurityDescriptor(str string, revision uint32, sd *uintptr, size *uint32) error {
	strPtr, err := syscall.UTF16PtrFromString(str)
	if err != nil {
		return err
	}
	r1, _, e1 := syscall.Syscall6(procConvertStringSecurityDescriptorToSecurityDescriptorW.Addr(), 4,
		uintptr(unsafe.Pointer(strPtr)), uintptr(revision), uintptr(unsafe.Pointer(sd)), uintptr(unsafe.Pointer(size)), 0, 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func getSecurityDescriptorLength(sd uintptr) uint32 {
	r1, _, _ := syscall.Syscall(procGetSecurityDescriptorLength.Addr(), 1, sd, 0, 0)
	return uint32(r1)
}

func createNamedPipe(name string, openMode uint32, pipeMode uint32, maxInstances uint32, outBufSize uint32, inBufSize uint32, defaultTimeout uint32, sa *windows.SecurityAttributes) (windows.Handle, error) {
	namePtr, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return windows.InvalidHandle, err
	}
	r1, _, e1 := syscall.Syscall9(procCreateNamedPipeW.Addr(), 8,
		uintptr(unsafe.Pointer(namePtr)), uintptr(openMode), uintptr(pipeMode), uintptr(maxInstances),
		uintptr(outBufSize), uintptr(inBufSize), uintptr(defaultTimeout), uintptr(unsafe.Pointer(sa)), 0)
	h := windows.Handle(r1)
	if h == windows.InvalidHandle {
		return h, errnoErr(e1)
	}
	return h, nil
}

func disconnectNamedPipe(pipe windows.Handle) error {
	r1, _, e1 := syscall.Syscall(procDisconnectNamedPipe.Addr(), 1, uintptr(pipe), 0, 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func getNamedPipeInfo(pipe windows.Handle, flags, outSize, inSize, maxInstances *uint32) error {
	r1, _, e1 := syscall.Syscall6(procGetNamedPipeInfo.Addr(), 5,
		uintptr(pipe), uintptr(unsafe.Pointer(flags)), uintptr(unsafe.Pointer(outSize)), uintptr(unsafe.Pointer(inSize)), uintptr(unsafe.Pointer(maxInstances)), 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func flushFileBuffers(h windows.Handle) error {
	r1, _, e1 := syscall.Syscall(procFlushFileBuffers.Addr(), 1, uintptr(h), 0, 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func wtsQueryUserToken(sessionID uint32, token *windows.Token) error {
	r1, _, e1 := syscall.Syscall(procWTSQueryUserToken.Addr(), 2, uintptr(sessionID), uintptr(unsafe.Pointer(token)), 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}
