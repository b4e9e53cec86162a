package ipc_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
)

func TestConnectionMessageRoundTrip(t *testing.T) {
	in := ipc.ConnectionMessage{PipeName: `01234567-89ab-cdef-0123-456789abcdef`}
	b, err := ipc.EncodeConnectionMessage(in)
	require.NoError(t, err)
	require.Len(t, b, ipc.MaxPipeNameCodeUnits*2)

	out, err := ipc.DecodeConnectionMessage(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConnectionMessageRejectsOverlongName(t *testing.T) {
	_, err := ipc.EncodeConnectionMessage(ipc.ConnectionMessage{
		PipeName: `\\.\pipe\` + strings.Repeat("x", ipc.MaxPipeNameCodeUnits),
	})
	assert.Error(t, err)
}

func TestDecodeConnectionMessageRejectsShortRecord(t *testing.T) {
	_, err := ipc.DecodeConnectionMessage(make([]byte, 10))
	assert.Error(t, err)
}

func TestSharedHandleDataRoundTrip(t *testing.T) {
	in := ipc.SharedHandleData{TextureHandle: 0xDEADBEEF00C0FFEE, Width: 3840, Height: 2160}
	out, err := ipc.DecodeSharedHandleData(ipc.EncodeSharedHandleData(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHelperConfigRoundTrip(t *testing.T) {
	in := ipc.HelperConfig{
		DynamicRange: 1,
		LogLevel:     4,
		DisplayName:  `\\.\DISPLAY2`,
		AdapterLUID:  ipc.AdapterLUID{Low: 0x1234, High: -7},
	}
	b, err := ipc.EncodeHelperConfig(in)
	require.NoError(t, err)

	out, err := ipc.DecodeHelperConfig(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHelperConfigRejectsZeroLUID(t *testing.T) {
	b, err := ipc.EncodeHelperConfig(ipc.HelperConfig{DisplayName: `\\.\DISPLAY1`})
	require.NoError(t, err)

	_, err = ipc.DecodeHelperConfig(b)
	assert.ErrorIs(t, err, ipc.ErrMissingLUID)
}

func TestHelperConfigRejectsOverlongDisplayName(t *testing.T) {
	_, err := ipc.EncodeHelperConfig(ipc.HelperConfig{
		DisplayName: strings.Repeat("d", 40),
		AdapterLUID: ipc.AdapterLUID{Low: 1},
	})
	assert.Error(t, err)
}

func TestFrameReadyCarriesQPC(t *testing.T) {
	b := ipc.EncodeFrameReady(0x0102030405060708)
	require.Len(t, b, 1+ipc.FrameReadyQPCSize)
	require.Equal(t, ipc.MsgFrameReady, b[0])

	qpc, ok := ipc.DecodeFrameReadyQPC(b[1:])
	require.True(t, ok)
	assert.Equal(t, uint64(0x0102030405060708), qpc)
}

func TestFrameReadyLegacySingleByte(t *testing.T) {
	_, ok := ipc.DecodeFrameReadyQPC(nil)
	assert.False(t, ok)
}
