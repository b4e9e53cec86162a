//go:build windows

package procutil

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// golang.org/x/sys/windows does not export the job-object API.
var (
	modkernel32jobobj = windows.NewLazySystemDLL("kernel32.dll")

	procCreateJobObjectW         = modkernel32jobobj.NewProc("CreateJobObjectW")
	procSetInformationJobObject  = modkernel32jobobj.NewProc("SetInformationJobObject")
	procAssignProcessToJobObject = modkernel32jobobj.NewProc("AssignProcessToJobObject")
)

const (
	jobObjectExtendedLimitInformation = 9
	jobObjectLimitKillOnJobClose      = 0x00002000
)

// jobObjectBasicLimitInformation mirrors JOBOBJECT_BASIC_LIMIT_INFORMATION;
// only LimitFlags is set here.
type jobObjectBasicLimitInformation struct {
	PerProcessUserTimeLimit int64
	PerJobUserTimeLimit     int64
	LimitFlags              uint32
	MinimumWorkingSetSize   uintptr
	MaximumWorkingSetSize   uintptr
	ActiveProcessLimit      uint32
	Affinity                uintptr
	PriorityClass           uint32
	SchedulingClass         uint32
}

// jobObjectExtendedLimitInfo mirrors JOBOBJECT_EXTENDED_LIMIT_INFORMATION,
// padded to the platform pointer size like the real struct.
type jobObjectExtendedLimitInfo struct {
	BasicLimitInformation jobObjectBasicLimitInformation
	IoInfo                [6]uintptr // IO_COUNTERS, opaque here
	ProcessMemoryLimit    uintptr
	JobMemoryLimit        uintptr
	PeakProcessMemoryUsed uintptr
	PeakJobMemoryUsed     uintptr
}

// createKillOnCloseJobObject creates an unnamed job object configured so
// that closing its last handle (e.g. on host process crash or exit)
// terminates every process assigned to it. This guarantees the capture
// helper, and the shared texture handle it holds open, cannot outlive an
// unclean host shutdown.
func createKillOnCloseJobObject() (windows.Handle, error) {
	r1, _, e1 := syscall.Syscall(procCreateJobObjectW.Addr(), 2, 0, 0, 0)
	h := windows.Handle(r1)
	if h == 0 {
		return 0, errnoErr(e1)
	}

	var info jobObjectExtendedLimitInfo
	info.BasicLimitInformation.LimitFlags = jobObjectLimitKillOnJobClose

	r1, _, e1 = syscall.Syscall6(procSetInformationJobObject.Addr(), 4,
		uintptr(h), jobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), unsafe.Sizeof(info), 0, 0)
	if r1 == 0 {
		windows.CloseHandle(h) //nolint:errcheck
		return 0, errnoErr(e1)
	}
	return h, nil
}

func assignProcessToJobObject(job, process windows.Handle) error {
	r1, _, e1 := syscall.Syscall(procAssignProcessToJobObject.Addr(), 2, uintptr(job), uintptr(process), 0)
	if r1 == 0 {
		return errnoErr(e1)
	}
	return nil
}

func errnoErr(e syscall.Errno) error {
	if e == 0 {
		return syscall.EINVAL
	}
	return e
}
