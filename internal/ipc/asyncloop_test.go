package ipc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

// connectedPair returns both ends of one in-memory pipe.
func connectedPair(t *testing.T) (server, client ipc.Endpoint) {
	t.Helper()
	transport := newFakeTransport()
	server, err := transport.CreateServer("test-pipe")
	require.NoError(t, err)
	client, err = transport.CreateClient(context.Background(), "test-pipe")
	require.NoError(t, err)
	return server, client
}

func TestAsyncLoopDispatchesMessages(t *testing.T) {
	server, client := connectedPair(t)
	defer server.Disconnect()

	var mu sync.Mutex
	var got [][]byte
	loop := ipc.NewAsyncLoop(server, discardLogger())
	require.True(t, loop.Start(
		func(b []byte) {
			mu.Lock()
			got = append(got, b)
			mu.Unlock()
		},
		func(error) {},
		func() {},
	))
	defer loop.Stop()

	ok, err := client.Send([]byte{ipc.MsgFrameReady}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []byte{ipc.MsgFrameReady}, got[0])
	mu.Unlock()
}

func TestAsyncLoopStartTwiceFails(t *testing.T) {
	server, _ := connectedPair(t)
	loop := ipc.NewAsyncLoop(server, discardLogger())
	require.True(t, loop.Start(func([]byte) {}, func(error) {}, func() {}))
	defer loop.Stop()

	assert.False(t, loop.Start(func([]byte) {}, func(error) {}, func() {}))
}

func TestAsyncLoopReportsBrokenPipe(t *testing.T) {
	server, client := connectedPair(t)

	brokenCh := make(chan struct{})
	loop := ipc.NewAsyncLoop(server, discardLogger())
	require.True(t, loop.Start(
		func([]byte) {},
		func(error) {},
		func() { close(brokenCh) },
	))
	defer loop.Stop()

	require.NoError(t, client.Disconnect())

	select {
	case <-brokenCh:
	case <-time.After(time.Second):
		t.Fatal("broken-pipe callback never fired")
	}
}

func TestAsyncLoopCallbackPanicDoesNotKillWorker(t *testing.T) {
	server, client := connectedPair(t)
	defer server.Disconnect()

	var mu sync.Mutex
	delivered := 0
	loop := ipc.NewAsyncLoop(server, discardLogger())
	require.True(t, loop.Start(
		func(b []byte) {
			mu.Lock()
			delivered++
			n := delivered
			mu.Unlock()
			if n == 1 {
				panic("first message panics")
			}
		},
		func(error) {},
		func() {},
	))
	defer loop.Stop()

	for i := 0; i < 2; i++ {
		ok, err := client.Send([]byte{ipc.MsgHeartbeat}, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		// Let the first dispatch (and its recover) complete before the next
		// send so the fake's byte stream doesn't coalesce both messages.
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return delivered == i+1
		}, time.Second, 5*time.Millisecond)
	}
}

func TestAsyncLoopStopIsIdempotent(t *testing.T) {
	server, _ := connectedPair(t)
	loop := ipc.NewAsyncLoop(server, discardLogger())
	require.True(t, loop.Start(func([]byte) {}, func(error) {}, func() {}))

	loop.Stop()
	loop.Stop()
	assert.False(t, loop.IsConnected())
}
