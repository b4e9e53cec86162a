//go:build windows

package ipc

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// AccountLookupError carries the account name alongside the underlying
// failure so callers can distinguish "account not found" from a deeper API
// error.
type AccountLookupError struct {
	Name string
	Err  error
}

func (e *AccountLookupError) Error() string {
	if e.Name == "" {
		return "lookup account: empty account name specified"
	}
	return "lookup account " + e.Name + ": " + e.Err.Error()
}

// LookupSidByName resolves an account name (e.g. the interactive console
// user) to its string SID.
func LookupSidByName(name string) (string, error) {
	if name == "" {
		return "", &AccountLookupError{name, syscall.Errno(1332)}
	}

	var sidSize, sidNameUse, refDomainSize uint32
	err := lookupAccountName(nil, name, nil, &sidSize, nil, &refDomainSize, &sidNameUse)
	if err != nil && !errors.Is(err, syscall.ERROR_INSUFFICIENT_BUFFER) {
		return "", &AccountLookupError{name, err}
	}
	sidBuffer := make([]byte, sidSize)
	refDomainBuffer := make([]uint16, refDomainSize)
	err = lookupAccountName(nil, name, &sidBuffer[0], &sidSize, &refDomainBuffer[0], &refDomainSize, &sidNameUse)
	if err != nil {
		return "", &AccountLookupError{name, err}
	}
	var strBuffer *uint16
	if err := convertSidToStringSid(&sidBuffer[0], &strBuffer); err != nil {
		return "", &AccountLookupError{name, err}
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(strBuffer))) //nolint:errcheck
	return windows.UTF16PtrToString(strBuffer), nil
}

// SddlToSecurityDescriptor converts an SDDL string to a self-relative
// SECURITY_DESCRIPTOR byte buffer suitable for CreateNamedPipeW's
// SECURITY_ATTRIBUTES.
func SddlToSecurityDescriptor(sddl string) ([]byte, error) {
	var sdBuffer uintptr
	if err := convertStringSecurityDescriptorToSecurityDescriptor(sddl, 1, &sdBuffer, nil); err != nil {
		return nil, errors.Wrapf(err, "convert sddl %q", sddl)
	}
	defer windows.LocalFree(windows.Handle(sdBuffer)) //nolint:errcheck
	sd := make([]byte, getSecurityDescriptorLength(sdBuffer))
	copy(sd, (*[0xffff]byte)(unsafe.Pointer(sdBuffer))[:len(sd)])
	return sd, nil
}

// ServerSecurityDescriptor builds the named-pipe security descriptor a
// SYSTEM host needs: GENERIC_ALL for LocalSystem and for the interactive
// console user (so the unprivileged helper, launched into that user's
// session, can open the pipe). When the interactive user SID cannot be
// resolved (no one is logged on), the descriptor falls back to SYSTEM-only;
// the handshake then simply has no session to connect from, which the
// caller observes as a connect timeout, not a crash.
func ServerSecurityDescriptor(interactiveUserSID string) (string, error) {
	sddl := "D:P(A;;GA;;;SY)"
	if interactiveUserSID != "" {
		sddl += "(A;;GA;;;" + interactiveUserSID + ")"
	}
	return sddl, nil
}

// isRunningAsSystem reports whether the current process token is
// LocalSystem (S-1-5-18). Sunshine's service install runs the host as
// SYSTEM, which is exactly when the helper must be launched into the
// interactive user's session and the pipe needs a dual-SID security
// descriptor.
func isRunningAsSystem() bool {
	token := windows.GetCurrentProcessToken()
	user, err := token.GetTokenUser()
	if err != nil {
		return false
	}
	systemSID, err := windows.StringToSid("S-1-5-18")
	if err != nil {
		return false
	}
	return windows.EqualSid(user.User.Sid, systemSID)
}

// InteractiveConsoleUserSID resolves the SID of the account logged into the
// current console session, for use in ServerSecurityDescriptor. Returns ""
// (not an error) when no user is logged on, e.g. at the lock screen before
// first logon.
func InteractiveConsoleUserSID() (string, error) {
	sessionID := windows.WTSGetActiveConsoleSessionId()
	if sessionID == 0xFFFFFFFF {
		return "", nil
	}

	var token windows.Token
	if err := wtsQueryUserToken(sessionID, &token); err != nil {
		return "", nil //nolint:nilerr // no interactive user is a normal, expected state.
	}
	defer token.Close()

	user, err := token.GetTokenUser()
	if err != nil {
		return "", errors.Wrap(err, "query token user")
	}
	sid, err := user.User.Sid.String()
	if err != nil {
		return "", errors.Wrap(err, "stringify sid")
	}
	return sid, nil
}
