package ipc_test

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func TestHandshakeHappyPath(t *testing.T) {
	transport := newFakeTransport()
	ctx := context.Background()
	log := discardLogger()

	type result struct {
		ep  ipc.Endpoint
		err error
	}
	hostCh := make(chan result, 1)
	go func() {
		ep, err := ipc.RunHostHandshake(ctx, transport, 4242, log)
		hostCh <- result{ep, err}
	}()

	helperEp, err := ipc.RunHelperHandshake(ctx, transport, 4242, log)
	require.NoError(t, err)
	require.NotNil(t, helperEp)

	hostRes := <-hostCh
	require.NoError(t, hostRes.err)
	require.NotNil(t, hostRes.ep)

	assert.True(t, helperEp.IsConnected())
	assert.True(t, hostRes.ep.IsConnected())
}

func TestHandshakeNoServerFails(t *testing.T) {
	transport := newFakeTransport()
	log := discardLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := ipc.RunHelperHandshake(ctx, transport, 9999, log)
	assert.ErrorIs(t, err, ipc.ErrHandshakeFailed)
}

func TestTwoHandshakesDoNotCrossTalk(t *testing.T) {
	transport := newFakeTransport()
	ctx := context.Background()
	log := discardLogger()

	type result struct {
		ep  ipc.Endpoint
		err error
	}

	runPair := func(pid int) (result, result) {
		hostCh := make(chan result, 1)
		go func() {
			ep, err := ipc.RunHostHandshake(ctx, transport, pid, log)
			hostCh <- result{ep, err}
		}()
		helperEp, err := ipc.RunHelperHandshake(ctx, transport, pid, log)
		return result{helperEp, err}, <-hostCh
	}

	helperA, hostA := runPair(111)
	helperB, hostB := runPair(222)

	require.NoError(t, helperA.err)
	require.NoError(t, hostA.err)
	require.NoError(t, helperB.err)
	require.NoError(t, hostB.err)

	assert.NotEqual(t, helperA.ep, helperB.ep)
	assert.NotEqual(t, hostA.ep, hostB.ep)
}
