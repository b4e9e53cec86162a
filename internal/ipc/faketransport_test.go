package ipc_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

// fakeTransport is an in-memory Transport used to exercise the handshake
// and async-loop state machines without a real Windows pipe. Pipes are
// duplex byte-queue pairs; CreateServer registers the pipe, CreateClient
// waits for it to exist then joins.
type fakeTransport struct {
	mu    sync.Mutex
	pipes map[string]*fakePipe
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pipes: make(map[string]*fakePipe)}
}

// fakePipe carries one directional byte queue per role so an endpoint
// never reads back its own writes.
type fakePipe struct {
	mu         sync.Mutex
	cond       *sync.Cond
	toServer   []byte
	toClient   []byte
	clientJoin chan struct{}
	joined     bool
	closed     bool
}

func newFakePipe() *fakePipe {
	p := &fakePipe{}
	p.cond = sync.NewCond(&p.mu)
	p.clientJoin = make(chan struct{})
	return p
}

func (p *fakePipe) inbound(role ipc.Role) *[]byte {
	if role == ipc.RoleServer {
		return &p.toServer
	}
	return &p.toClient
}

func (p *fakePipe) outbound(role ipc.Role) *[]byte {
	if role == ipc.RoleServer {
		return &p.toClient
	}
	return &p.toServer
}

func (t *fakeTransport) CreateServer(name string) (ipc.Endpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := newFakePipe()
	t.pipes[name] = p
	return &fakeEndpoint{pipe: p, role: ipc.RoleServer}, nil
}

func (t *fakeTransport) CreateClient(ctx context.Context, name string) (ipc.Endpoint, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		t.mu.Lock()
		p, ok := t.pipes[name]
		t.mu.Unlock()
		if ok {
			p.mu.Lock()
			if !p.joined {
				p.joined = true
				close(p.clientJoin)
			}
			p.mu.Unlock()
			return &fakeEndpoint{pipe: p, role: ipc.RoleClient}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return nil, errors.New("fake: no such pipe")
		}
	}
}

type fakeEndpoint struct {
	pipe *fakePipe
	role ipc.Role
}

func (e *fakeEndpoint) Send(b []byte, _ time.Duration) (bool, error) {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, errors.New("fake: closed")
	}
	out := p.outbound(e.role)
	*out = append(*out, b...)
	p.cond.Broadcast()
	return true, nil
}

func (e *fakeEndpoint) Receive(buf []byte, timeout time.Duration) (int, ipc.ReceiveResult, error) {
	p := e.pipe
	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	in := p.inbound(e.role)
	for len(*in) == 0 && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ipc.ReceiveTimeout, nil
		}
		go func() { time.Sleep(remaining); p.cond.Broadcast() }()
		p.cond.Wait()
	}
	if p.closed && len(*in) == 0 {
		return 0, ipc.ReceiveBrokenPipe, nil
	}
	n := copy(buf, *in)
	*in = (*in)[n:]
	return n, ipc.ReceiveSuccess, nil
}

func (e *fakeEndpoint) WaitForClientConnection(timeout time.Duration) error {
	select {
	case <-e.pipe.clientJoin:
		return nil
	case <-time.After(timeout):
		return errors.New("fake: timed out waiting for client")
	}
}

func (e *fakeEndpoint) Disconnect() error {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (e *fakeEndpoint) IsConnected() bool {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined && !p.closed
}
