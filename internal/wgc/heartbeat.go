package wgc

import (
	"sync"
	"sync/atomic"
	"time"
)

// HeartbeatTimeout is how long the helper tolerates silence from the host
// before concluding it has been orphaned (crashed, killed, or the pipe
// wedged) and self-terminating.
const HeartbeatTimeout = 5 * time.Second

const heartbeatCheckInterval = 500 * time.Millisecond

// heartbeatWatchdog fires onTimeout once if Touch has not been called
// within HeartbeatTimeout. now is injectable so tests can drive it without
// a real clock.
type heartbeatWatchdog struct {
	last    atomic.Int64
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

func newHeartbeatWatchdog(now func() time.Time) *heartbeatWatchdog {
	if now == nil {
		now = time.Now
	}
	w := &heartbeatWatchdog{now: now, stopCh: make(chan struct{})}
	w.last.Store(now().UnixNano())
	return w
}

// Touch resets the watchdog's clock; called whenever a heartbeat byte
// arrives from the host.
func (w *heartbeatWatchdog) Touch() { w.last.Store(w.now().UnixNano()) }

// Start begins polling for expiry on its own goroutine. onTimeout is called
// at most once.
func (w *heartbeatWatchdog) Start(onTimeout func()) {
	go func() {
		ticker := time.NewTicker(heartbeatCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				last := time.Unix(0, w.last.Load())
				if w.now().Sub(last) > HeartbeatTimeout {
					onTimeout()
					return
				}
			}
		}
	}()
}

// Stop halts the watchdog; safe to call more than once or concurrently
// with an in-flight onTimeout.
func (w *heartbeatWatchdog) Stop() {
	w.stopped.Do(func() { close(w.stopCh) })
}
