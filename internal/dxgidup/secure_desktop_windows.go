//go:build windows

package dxgidup

import (
	"strings"
	"syscall"
	"unsafe"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var (
	user32                        = syscall.NewLazyDLL("user32.dll")
	procGetThreadDesktop          = user32.NewProc("GetThreadDesktop")
	procGetUserObjectInformationW = user32.NewProc("GetUserObjectInformationW")
)

const uoiName = 2

// isConsentRunning reports whether a UAC consent.exe process is currently
// alive anywhere on the system.
func isConsentRunning() bool {
	procs, err := process.Processes()
	if err != nil {
		return false
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if strings.EqualFold(name, "consent.exe") {
			return true
		}
	}
	return false
}

// currentDesktopName queries the calling thread's current desktop station
// name via GetThreadDesktop + GetUserObjectInformationW(UOI_NAME).
func currentDesktopName() (string, bool) {
	desktop, _, _ := procGetThreadDesktop.Call(uintptr(windows.GetCurrentThreadId()))
	if desktop == 0 {
		return "", false
	}
	var buf [256]uint16
	var needed uint32
	ret, _, _ := procGetUserObjectInformationW.Call(desktop, uoiName,
		uintptr(unsafe.Pointer(&buf[0])), unsafe.Sizeof(buf), uintptr(unsafe.Pointer(&needed)))
	if ret == 0 {
		return "", false
	}
	return windows.UTF16ToString(buf[:]), true
}

// SecureDesktopActive reports whether the current session is showing the
// secure desktop: UAC consent.exe running, or the thread's desktop station
// named "Winlogon" or "SAD" (Secure Attention Desktop).
func SecureDesktopActive(log *logrus.Entry) bool {
	if isConsentRunning() {
		return true
	}
	if name, ok := currentDesktopName(); ok {
		if strings.EqualFold(name, "Winlogon") || strings.EqualFold(name, "SAD") {
			return true
		}
	} else {
		log.Debug("dxgidup: failed to query current desktop name")
	}
	return false
}
