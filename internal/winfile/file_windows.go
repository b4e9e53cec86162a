// Package winfile wraps the subset of the Win32 file/pipe API surface that
// the IPC transport needs: CreateFile with the access-mask, share-mode, and
// security-quality-of-service flag vocabulary overlapped named pipes
// require.
package winfile

import (
	"syscall"

	"golang.org/x/sys/windows"
)

const NullHandle = windows.Handle(0)

// AccessMask defines standard, specific, and generic rights.
// https://learn.microsoft.com/en-us/windows/win32/secauthz/access-mask
type AccessMask uint32

//nolint:revive
const (
	FILE_READ_DATA  AccessMask = 0x0001
	FILE_WRITE_DATA AccessMask = 0x0002

	READ_CONTROL AccessMask = 0x0002_0000
	SYNCHRONIZE  AccessMask = 0x0010_0000

	STANDARD_RIGHTS_READ  AccessMask = READ_CONTROL
	STANDARD_RIGHTS_WRITE AccessMask = READ_CONTROL

	GENERIC_READ  AccessMask = 0x8000_0000
	GENERIC_WRITE AccessMask = 0x4000_0000
	GENERIC_ALL   AccessMask = 0x1000_0000

	FILE_GENERIC_READ  AccessMask = STANDARD_RIGHTS_READ | FILE_READ_DATA | SYNCHRONIZE
	FILE_GENERIC_WRITE AccessMask = STANDARD_RIGHTS_WRITE | FILE_WRITE_DATA | SYNCHRONIZE
)

type FileShareMode uint32

//nolint:revive
const (
	FILE_SHARE_NONE  FileShareMode = 0x00
	FILE_SHARE_READ  FileShareMode = 0x01
	FILE_SHARE_WRITE FileShareMode = 0x02
)

type FileCreationDisposition uint32

//nolint:revive
const (
	OPEN_EXISTING FileCreationDisposition = 0x03
)

// FileFlag also carries the security-quality-of-service bits CreateFile
// overloads onto its attrs parameter.
type FileFlag uint32

//nolint:revive
const (
	FILE_FLAG_OVERLAPPED FileFlag = 0x4000_0000

	// SecurityImpersonationLevel << 16, see winbase.h.
	SECURITY_ANONYMOUS    FileFlag = 0 << 16
	SECURITY_SQOS_PRESENT FileFlag = 0x00100000
)

//sys CreateFile(name string, access AccessMask, mode FileShareMode, sa *syscall.SecurityAttributes, createmode FileCreationDisposition, attrs FileFlag, templatefile windows.Handle) (handle windows.Handle, err error) [failretval==windows.InvalidHandle] = kernel32.CreateFileW
