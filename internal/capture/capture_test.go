package capture_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/capture"
)

type fakeBackend struct {
	snapshotResults []capture.Result
	call            int
	released        int
}

func (b *fakeBackend) Snapshot(context.Context, capture.PullFreeImageFunc, time.Duration, bool) (capture.Image, capture.Result) {
	r := b.snapshotResults[b.call]
	if b.call < len(b.snapshotResults)-1 {
		b.call++
	}
	return nil, r
}

func (b *fakeBackend) ReleaseSnapshot() capture.Result {
	b.released++
	return capture.ResultOK
}

func TestSelectorStartsOnWGC(t *testing.T) {
	wgc := &fakeBackend{snapshotResults: []capture.Result{capture.ResultOK}}
	dxgi := &fakeBackend{snapshotResults: []capture.Result{capture.ResultOK}}
	s := capture.NewSelector(wgc, dxgi, logrus.NewEntry(logrus.New()))

	require.Equal(t, capture.KindWGC, s.Active())
	_, result := s.Snapshot(context.Background(), nil, time.Second, true)
	require.Equal(t, capture.ResultOK, result)
	require.Equal(t, 0, dxgi.released)
}

func TestSelectorSwapsToDXGIOnSecureDesktop(t *testing.T) {
	wgc := &fakeBackend{snapshotResults: []capture.Result{capture.ResultSwapCapture}}
	dxgi := &fakeBackend{snapshotResults: []capture.Result{capture.ResultOK}}
	s := capture.NewSelector(wgc, dxgi, logrus.NewEntry(logrus.New()))

	_, result := s.Snapshot(context.Background(), nil, time.Second, true)
	require.Equal(t, capture.ResultSwapCapture, result)
	require.Equal(t, capture.KindDXGI, s.Active())

	_, result = s.Snapshot(context.Background(), nil, time.Second, true)
	require.Equal(t, capture.ResultOK, result)
	require.Equal(t, capture.KindDXGI, s.Active())
}

func TestSelectorSwapsBackToWGCWhenSecureDesktopGone(t *testing.T) {
	wgc := &fakeBackend{snapshotResults: []capture.Result{capture.ResultOK}}
	dxgi := &fakeBackend{snapshotResults: []capture.Result{capture.ResultSwapCapture}}
	s := capture.NewSelector(wgc, dxgi, logrus.NewEntry(logrus.New()))

	// force onto DXGI first
	wgc.snapshotResults = []capture.Result{capture.ResultSwapCapture}
	_, _ = s.Snapshot(context.Background(), nil, time.Second, true)
	require.Equal(t, capture.KindDXGI, s.Active())

	_, result := s.Snapshot(context.Background(), nil, time.Second, true)
	require.Equal(t, capture.ResultSwapCapture, result)
	require.Equal(t, capture.KindWGC, s.Active())
}

func TestSelectorWithoutDXGIDegradesToError(t *testing.T) {
	wgc := &fakeBackend{snapshotResults: []capture.Result{capture.ResultSwapCapture}}
	s := capture.NewSelector(wgc, nil, logrus.NewEntry(logrus.New()))

	_, result := s.Snapshot(context.Background(), nil, time.Second, true)
	require.Equal(t, capture.ResultError, result)
	require.Equal(t, capture.KindWGC, s.Active())
}

func TestSelectorReleaseSnapshotTargetsActiveBackend(t *testing.T) {
	wgc := &fakeBackend{snapshotResults: []capture.Result{capture.ResultOK}}
	dxgi := &fakeBackend{snapshotResults: []capture.Result{capture.ResultOK}}
	s := capture.NewSelector(wgc, dxgi, logrus.NewEntry(logrus.New()))

	s.ReleaseSnapshot()
	require.Equal(t, 1, wgc.released)
	require.Equal(t, 0, dxgi.released)
}
