package dxgidup

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/capture"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeDuplicator struct {
	img      capture.Image
	err      error
	acquired int
	released int
}

func (d *fakeDuplicator) AcquireNextFrame(time.Duration) (capture.Image, error) {
	d.acquired++
	return d.img, d.err
}

func (d *fakeDuplicator) ReleaseFrame() error {
	d.released++
	return nil
}

func TestBackendDeliversFramesWhileSecureDesktopActive(t *testing.T) {
	dup := &fakeDuplicator{img: "frame"}
	b := NewBackend(dup, func() bool { return true }, discardLogger())

	img, result := b.Snapshot(context.Background(), nil, 100*time.Millisecond, false)
	require.Equal(t, capture.ResultOK, result)
	assert.Equal(t, "frame", img)

	require.Equal(t, capture.ResultOK, b.ReleaseSnapshot())
	assert.Equal(t, 1, dup.released)
}

func TestBackendRequestsSwapBackWhenSecureDesktopGone(t *testing.T) {
	dup := &fakeDuplicator{img: "frame"}
	b := NewBackend(dup, func() bool { return false }, discardLogger())

	_, result := b.Snapshot(context.Background(), nil, 100*time.Millisecond, false)
	require.Equal(t, capture.ResultSwapCapture, result)
	assert.Zero(t, dup.acquired)
}

func TestBackendChecksSecureDesktopOnInterval(t *testing.T) {
	active := true
	checks := 0
	dup := &fakeDuplicator{img: "frame"}
	b := NewBackend(dup, func() bool { checks++; return active }, discardLogger())

	// First call checks; calls inside the interval do not.
	_, result := b.Snapshot(context.Background(), nil, time.Millisecond, false)
	require.Equal(t, capture.ResultOK, result)
	_, _ = b.Snapshot(context.Background(), nil, time.Millisecond, false)
	assert.Equal(t, 1, checks)

	// Age the last check past the interval; the secure desktop is gone now,
	// so the next call requests the swap back to WGC.
	active = false
	b.lastCheck = time.Now().Add(-2 * checkInterval)
	_, result = b.Snapshot(context.Background(), nil, time.Millisecond, false)
	require.Equal(t, capture.ResultSwapCapture, result)
	assert.Equal(t, 2, checks)
}

func TestBackendMapsTimeoutAndError(t *testing.T) {
	dup := &fakeDuplicator{err: ErrTimeout}
	b := NewBackend(dup, func() bool { return true }, discardLogger())
	_, result := b.Snapshot(context.Background(), nil, time.Millisecond, false)
	assert.Equal(t, capture.ResultTimeout, result)

	dup.err = errors.New("device lost")
	b.lastCheck = time.Now()
	_, result = b.Snapshot(context.Background(), nil, time.Millisecond, false)
	assert.Equal(t, capture.ResultError, result)
}
