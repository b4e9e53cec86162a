package ipc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	asyncLoopReceiveTimeout = 250 * time.Millisecond
	asyncSendTimeout        = 5 * time.Second
	// asyncLoopDrainLimit bounds how many pending messages a single wake of
	// the worker will dispatch before yielding, so a burst of heartbeats or
	// frame-ready bytes cannot starve the loop's cancellation check.
	asyncLoopDrainLimit = 32
)

// AsyncLoop owns a single dedicated worker goroutine per Endpoint: it reads
// messages in a blocking loop and dispatches them to callbacks, so no user
// goroutine ever blocks on the pipe.
type AsyncLoop struct {
	ep  Endpoint
	log *logrus.Entry

	onMessage    func(b []byte)
	onError      func(err error)
	onBrokenPipe func()

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewAsyncLoop constructs a loop bound to ep. Callbacks are invoked only
// from the worker goroutine, never concurrently with one another.
func NewAsyncLoop(ep Endpoint, log *logrus.Entry) *AsyncLoop {
	return &AsyncLoop{ep: ep, log: log}
}

// Start begins the worker. Returns false if already running.
func (l *AsyncLoop) Start(onMessage func(b []byte), onError func(err error), onBrokenPipe func()) bool {
	if !l.running.CompareAndSwap(false, true) {
		return false
	}
	l.onMessage, l.onError, l.onBrokenPipe = onMessage, onError, onBrokenPipe
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run()
	return true
}

// Stop signals the worker to exit, unblocks its in-flight Receive by
// disconnecting the endpoint, and waits for it to return. Safe to call
// multiple times.
func (l *AsyncLoop) Stop() {
	l.once.Do(func() {
		if !l.running.Load() {
			return
		}
		close(l.stopCh)
		_ = l.ep.Disconnect()
		<-l.doneCh
	})
}

// Send is fire-and-forget from the caller's perspective: it uses a 5s
// transport timeout and logs-and-drops on failure rather than propagating
// an error to the caller.
func (l *AsyncLoop) Send(b []byte) {
	ok, err := l.ep.Send(b, asyncSendTimeout)
	if err != nil {
		l.log.WithError(err).Warn("async loop: send failed")
		return
	}
	if !ok {
		l.log.Warn("async loop: send timed out, message dropped")
	}
}

func (l *AsyncLoop) IsConnected() bool {
	return l.ep.IsConnected()
}

func (l *AsyncLoop) run() {
	defer close(l.doneCh)
	defer l.running.Store(false)

	buf := make([]byte, 4096)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		drained := 0
		for drained < asyncLoopDrainLimit {
			n, result, err := l.ep.Receive(buf, asyncLoopReceiveTimeout)
			switch result {
			case ReceiveTimeout:
				drained = asyncLoopDrainLimit // nothing more pending; fall through to re-check stopCh
			case ReceiveBrokenPipe, ReceiveDisconnected:
				l.safeInvoke(func() { l.onBrokenPipe() })
				return
			case ReceiveSuccess:
				if n > 0 {
					msg := append([]byte(nil), buf[:n]...)
					l.safeInvoke(func() { l.onMessage(msg) })
				}
				drained++
			default:
				if err != nil {
					l.safeInvoke(func() { l.onError(err) })
				}
				drained++
			}
			if result == ReceiveTimeout {
				break
			}
		}
	}
}

// safeInvoke keeps callback panics from escaping the worker goroutine.
func (l *AsyncLoop) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("async loop: callback panicked")
		}
	}()
	fn()
}
