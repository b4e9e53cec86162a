package ipc

import (
	"context"
	"fmt"
	"time"
)

// ReceiveResult distinguishes why Receive returned, since upper layers react
// differently to a broken pipe (reinit) than to a timeout (retry).
type ReceiveResult int

const (
	ReceiveSuccess ReceiveResult = iota
	ReceiveTimeout
	ReceiveBrokenPipe
	ReceiveDisconnected
	ReceiveError
)

func (r ReceiveResult) String() string {
	switch r {
	case ReceiveSuccess:
		return "Success"
	case ReceiveTimeout:
		return "Timeout"
	case ReceiveBrokenPipe:
		return "BrokenPipe"
	case ReceiveDisconnected:
		return "Disconnected"
	default:
		return "Error"
	}
}

// Endpoint is one side of a connected named-pipe byte stream with
// overlapped-I/O semantics. Every operation owns a fresh completion
// context; timeouts cancel and drain rather than abandon the in-flight
// kernel request.
type Endpoint interface {
	// Send attempts a full write within timeout. It returns true only if
	// every byte was written.
	Send(b []byte, timeout time.Duration) (bool, error)
	// Receive reads up to len(buf) bytes within timeout.
	Receive(buf []byte, timeout time.Duration) (n int, result ReceiveResult, err error)
	// WaitForClientConnection blocks (server-side only) until a client
	// connects or timeout elapses.
	WaitForClientConnection(timeout time.Duration) error
	// Disconnect cancels outstanding I/O, flushes (server role), and
	// transitions to the terminal state. Idempotent.
	Disconnect() error
	IsConnected() bool
}

// Role distinguishes which side of the handshake an endpoint was opened as;
// only the server role flushes on disconnect.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Transport creates pipe endpoints. Production code uses the Windows
// overlapped-I/O implementation in pipe_windows.go; tests use an in-memory
// fake so the handshake (C2) and async-loop (C3) state machines can be
// exercised without a real OS pipe.
type Transport interface {
	CreateServer(name string) (Endpoint, error)
	CreateClient(ctx context.Context, name string) (Endpoint, error)
}

// WellKnownHandshakeName returns the fixed handshake pipe name for a given
// parent host PID: `\\.\pipe\SunshineWGCPipe_<pid>`. Suffixing by PID is
// what lets two concurrent host instances avoid a name collision.
func WellKnownHandshakeName(parentPID int) string {
	return fmt.Sprintf(`\\.\pipe\SunshineWGCPipe_%d`, parentPID)
}
