//go:build windows

package procutil

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// processHandles retains the OS resources owned by a running helper: the
// process/thread handles CreateProcess(AsUser) returned and the job object
// the process was assigned to.
type processHandles struct {
	process windows.Handle
	thread  windows.Handle
	job     windows.Handle
	started bool
}

// Config names the helper binary and its arguments; the host supplies
// display/pipe-name plumbing separately over the established pipe, not via
// argv.
type Config struct {
	ExePath string
	Args    []string
}

// Start spawns the helper. When the current process token is SYSTEM (the
// Sunshine service install), it duplicates that token into the interactive
// console session and launches via CreateProcessAsUser, because WGC
// requires a desktop-interactive session. Otherwise it launches directly
// as the current user via CreateProcess. Either path assigns the new
// process to a job object configured with
// JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE, so a host crash cannot orphan the
// helper (and the shared texture it holds).
func (h *HelperProcess) Start(cfg Config) error {
	if h.handles.started {
		return ErrAlreadyRunning
	}

	job, err := createKillOnCloseJobObject()
	if err != nil {
		return errors.Wrap(err, "procutil: create job object")
	}

	var pi windows.ProcessInformation
	if isRunningAsSystem() {
		pi, err = spawnIntoConsoleSession(cfg)
	} else {
		pi, err = spawnDirect(cfg)
	}
	if err != nil {
		windows.CloseHandle(job) //nolint:errcheck
		return errors.Wrap(err, "procutil: spawn helper")
	}

	if err := assignProcessToJobObject(job, pi.Process); err != nil {
		// The process is already running; best-effort kill it rather than
		// leave an un-jobbed helper alive with no supervision.
		windows.TerminateProcess(pi.Process, 1) //nolint:errcheck
		windows.CloseHandle(pi.Thread)          //nolint:errcheck
		windows.CloseHandle(pi.Process)         //nolint:errcheck
		windows.CloseHandle(job)                //nolint:errcheck
		return errors.Wrap(err, "procutil: assign process to job object")
	}

	h.handles = processHandles{process: pi.Process, thread: pi.Thread, job: job, started: true}
	h.log.WithField("pid", pi.ProcessId).Info("helper process started")
	return nil
}

func spawnDirect(cfg Config) (windows.ProcessInformation, error) {
	cmdLine, err := windows.UTF16PtrFromString(buildCommandLine(cfg))
	if err != nil {
		return windows.ProcessInformation{}, err
	}
	si := startupInfoEx()
	var pi windows.ProcessInformation
	err = windows.CreateProcess(
		nil, cmdLine, nil, nil, false,
		windows.EXTENDED_STARTUPINFO_PRESENT|windows.CREATE_UNICODE_ENVIRONMENT|windows.CREATE_NO_WINDOW,
		nil, nil, &si.StartupInfo, &pi,
	)
	return pi, err
}

// spawnIntoConsoleSession duplicates the current (SYSTEM) process token,
// retargets it at the active console session, and launches the helper with
// CreateProcessAsUser on the interactive window station/desktop.
func spawnIntoConsoleSession(cfg Config) (windows.ProcessInformation, error) {
	var pi windows.ProcessInformation

	var processToken windows.Token
	proc, err := windows.GetCurrentProcess()
	if err != nil {
		return pi, fmt.Errorf("GetCurrentProcess: %w", err)
	}
	if err := windows.OpenProcessToken(proc, windows.TOKEN_DUPLICATE|windows.TOKEN_QUERY, &processToken); err != nil {
		return pi, fmt.Errorf("OpenProcessToken: %w", err)
	}
	defer processToken.Close()

	var dupToken windows.Token
	if err := windows.DuplicateTokenEx(
		processToken,
		windows.MAXIMUM_ALLOWED,
		nil,
		windows.SecurityDelegation,
		windows.TokenPrimary,
		&dupToken,
	); err != nil {
		return pi, fmt.Errorf("DuplicateTokenEx: %w", err)
	}
	defer dupToken.Close()

	sessionID := windows.WTSGetActiveConsoleSessionId()
	if sessionID == 0xFFFFFFFF {
		return pi, errors.New("no interactive console session available")
	}
	if err := windows.SetTokenInformation(
		dupToken,
		windows.TokenSessionId,
		(*byte)(unsafe.Pointer(&sessionID)),
		uint32(unsafe.Sizeof(sessionID)),
	); err != nil {
		return pi, fmt.Errorf("SetTokenInformation(TokenSessionId=%d): %w", sessionID, err)
	}

	cmdLine, err := windows.UTF16PtrFromString(buildCommandLine(cfg))
	if err != nil {
		return pi, err
	}
	desktop, err := windows.UTF16PtrFromString(`winsta0\Default`)
	if err != nil {
		return pi, err
	}
	si := windows.StartupInfo{Cb: uint32(unsafe.Sizeof(windows.StartupInfo{})), Desktop: desktop}

	err = windows.CreateProcessAsUser(
		dupToken, nil, cmdLine, nil, nil, false,
		windows.CREATE_UNICODE_ENVIRONMENT|windows.CREATE_NO_WINDOW,
		nil, nil, &si, &pi,
	)
	if err != nil {
		return pi, fmt.Errorf("CreateProcessAsUser(session=%d): %w", sessionID, err)
	}
	return pi, nil
}

func buildCommandLine(cfg Config) string {
	cmd := `"` + cfg.ExePath + `"`
	for _, a := range cfg.Args {
		cmd += ` "` + a + `"`
	}
	return cmd
}

func startupInfoEx() windows.StartupInfoEx {
	var si windows.StartupInfoEx
	si.StartupInfo.Cb = uint32(unsafe.Sizeof(si))
	return si
}

// Wait blocks until the helper exits and returns its exit code.
func (h *HelperProcess) Wait() (uint32, error) {
	if !h.handles.started {
		return 0, errors.New("procutil: helper not started")
	}
	if _, err := windows.WaitForSingleObject(h.handles.process, windows.INFINITE); err != nil {
		return 0, err
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h.handles.process, &code); err != nil {
		return 0, err
	}
	return code, nil
}

// Terminate is a best-effort, idempotent TerminateProcess(exitCode=1). The
// job object's kill-on-close semantics are the backstop if this is never
// called (e.g. the host itself crashes).
func (h *HelperProcess) Terminate() {
	if !h.handles.started {
		return
	}
	windows.TerminateProcess(h.handles.process, 1) //nolint:errcheck
}

// Close releases all retained handles. Safe to call multiple times.
func (h *HelperProcess) Close() {
	if h.handles.process != 0 {
		windows.CloseHandle(h.handles.process) //nolint:errcheck
		h.handles.process = 0
	}
	if h.handles.thread != 0 {
		windows.CloseHandle(h.handles.thread) //nolint:errcheck
		h.handles.thread = 0
	}
	if h.handles.job != 0 {
		windows.CloseHandle(h.handles.job) //nolint:errcheck
		h.handles.job = 0
	}
	h.handles.started = false
}

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
