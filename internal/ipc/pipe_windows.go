//go:build windows

package ipc

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/lizardbyte/sunshine-wgc/internal/overlapped"
	"github.com/lizardbyte/sunshine-wgc/internal/winfile"
)

const (
	pipeBufferSize = 64 * 1024

	clientDialBackoff = 50 * time.Millisecond
	clientBusyWait    = 250 * time.Millisecond
)

// pipeEndpoint is the Windows overlapped-I/O Endpoint implementation.
type pipeEndpoint struct {
	handle    windows.Handle
	role      Role
	path      string
	connected atomic.Bool
	mu        sync.Mutex // serialises Disconnect against concurrent Send/Receive/WaitForClientConnection
	closed    atomic.Bool
}

var _ Endpoint = (*pipeEndpoint)(nil)

// WinTransport is the production Transport backed by real named pipes.
type WinTransport struct{}

var _ Transport = WinTransport{}

// isRunningAsSystemFn is a package var so tests can override it; production
// always resolves to the real token check, isRunningAsSystem in
// security_windows.go.
var isRunningAsSystemFn = isRunningAsSystem

func (WinTransport) CreateServer(name string) (Endpoint, error) {
	var sa windows.SecurityAttributes
	sa.Length = uint32(unsafe.Sizeof(sa))

	if isRunningAsSystemFn() {
		sid, err := InteractiveConsoleUserSID()
		if err != nil {
			return nil, err
		}
		sddl, err := ServerSecurityDescriptor(sid)
		if err != nil {
			return nil, err
		}
		sd, err := SddlToSecurityDescriptor(sddl)
		if err != nil {
			return nil, err
		}
		sdPtr, err := copyToLocalAlloc(sd)
		if err != nil {
			return nil, err
		}
		defer windows.LocalFree(windows.Handle(sdPtr)) //nolint:errcheck
		sa.SecurityDescriptor = (*byte)(unsafe.Pointer(sdPtr))
	}

	const pipeMode = windows.PIPE_TYPE_BYTE | windows.PIPE_READMODE_BYTE | windows.PIPE_WAIT
	const openMode = windows.PIPE_ACCESS_DUPLEX | uint32(windows.FILE_FLAG_OVERLAPPED)

	h, err := createNamedPipe(name, openMode, pipeMode, 1, pipeBufferSize, pipeBufferSize, 0, &sa)
	if err != nil {
		return nil, &os.PathError{Op: "CreateNamedPipe", Path: name, Err: err}
	}
	return &pipeEndpoint{handle: h, role: RoleServer, path: name}, nil
}

// CreateClient retries FileNotFound/PipeBusy until ctx is cancelled; callers
// set the overall dial budget via ctx's deadline (~2s for the well-known
// handshake pipe, 5s for the data pipe).
func (WinTransport) CreateClient(ctx context.Context, name string) (Endpoint, error) {
	for {
		h, err := winfile.CreateFile(name,
			winfile.GENERIC_READ|winfile.GENERIC_WRITE,
			winfile.FILE_SHARE_NONE,
			nil,
			winfile.OPEN_EXISTING,
			winfile.FILE_FLAG_OVERLAPPED,
			windows.Handle(winfile.NullHandle))
		if err == nil {
			p := &pipeEndpoint{handle: h, role: RoleClient, path: name}
			p.connected.Store(true)
			return p, nil
		}
		if !errors.Is(err, windows.ERROR_FILE_NOT_FOUND) && !errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		case <-time.After(pickBackoff(err)):
		}
	}
}

func pickBackoff(err error) time.Duration {
	if errors.Is(err, windows.ERROR_PIPE_BUSY) {
		return clientBusyWait
	}
	return clientDialBackoff
}

// copyToLocalAlloc copies b into process-global (LMEM) memory, since
// CreateNamedPipeW's SECURITY_ATTRIBUTES must outlive the Go byte slice
// that produced it across the syscall boundary.
func copyToLocalAlloc(b []byte) (uintptr, error) {
	ptr, err := windows.LocalAlloc(0, uint32(len(b)))
	if err != nil {
		return 0, err
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(b))
	copy(dst, b)
	return uintptr(ptr), nil
}

func (p *pipeEndpoint) Send(b []byte, timeout time.Duration) (bool, error) {
	if len(b) == 0 {
		return true, nil
	}
	n, err := overlapped.Write(p.handle, b, timeout)
	if errors.Is(err, overlapped.ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == len(b), nil
}

func (p *pipeEndpoint) Receive(buf []byte, timeout time.Duration) (int, ReceiveResult, error) {
	if len(buf) == 0 {
		return 0, ReceiveSuccess, nil
	}
	n, err := overlapped.Read(p.handle, buf, timeout)
	switch {
	case err == nil:
		return n, ReceiveSuccess, nil
	case errors.Is(err, overlapped.ErrTimeout):
		return 0, ReceiveTimeout, nil
	case errors.Is(err, windows.ERROR_BROKEN_PIPE):
		return 0, ReceiveBrokenPipe, nil
	case errors.Is(err, windows.ERROR_OPERATION_ABORTED):
		return 0, ReceiveDisconnected, nil
	default:
		return 0, ReceiveError, err
	}
}

func (p *pipeEndpoint) WaitForClientConnection(timeout time.Duration) error {
	if p.role != RoleServer {
		return errors.New("ipc: WaitForClientConnection is server-only")
	}
	err := overlapped.Connect(p.handle, timeout)
	if err == nil {
		p.connected.Store(true)
	}
	return err
}

func (p *pipeEndpoint) IsConnected() bool {
	return p.connected.Load() && !p.closed.Load()
}

func (p *pipeEndpoint) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil
	}

	_ = overlapped.CancelAndDrain(p.handle)

	if p.role == RoleServer {
		_ = flushFileBuffers(p.handle)
		_ = disconnectNamedPipe(p.handle)
	}

	p.connected.Store(false)
	p.closed.Store(true)
	return windows.CloseHandle(p.handle)
}
