// Package ipc implements the host-helper wire protocol and pipe transport
// described for the WGC capture subsystem: anonymous-handshake named pipes,
// an async dispatch loop, and the small fixed-width records exchanged
// between the host and the capture helper.
//
// The record layouts and byte constants in this file have no Windows
// dependency so the handshake and async-loop state machines can be unit
// tested against a fake Endpoint on any platform; only the concrete pipe
// implementation in pipe_windows.go requires GOOS=windows.
package ipc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Single-byte control messages, per the host<->helper wire protocol.
const (
	MsgHeartbeat     byte = 0x01
	MsgSecureDesktop byte = 0x02
	MsgFrameReady    byte = 0x03
	MsgHandshakeACK  byte = 0xA5
)

// MaxPipeNameCodeUnits bounds ConnectionMessage's embedded pipe name field,
// per the handshake record layout (39 characters plus NUL terminator).
const MaxPipeNameCodeUnits = 40

// FrameReadyQPCSize is the byte length of the optional QueryPerformanceCounter
// timestamp that follows MsgFrameReady: the helper writes its QPC reading
// for the frame it just released immediately after the 0x03 byte, letting
// the host report capture-to-encode latency without a second round trip.
const FrameReadyQPCSize = 8

// EncodeFrameReady builds the 9-byte frame-ready message: the 0x03 control
// byte followed by the little-endian QPC timestamp at which the helper
// released the frame.
func EncodeFrameReady(qpc uint64) []byte {
	buf := make([]byte, 1+FrameReadyQPCSize)
	buf[0] = MsgFrameReady
	binary.LittleEndian.PutUint64(buf[1:], qpc)
	return buf
}

// DecodeFrameReadyQPC extracts the QPC timestamp from a frame-ready message
// body (b with the leading 0x03 already stripped). ok is false for peers
// that only ever sent the bare legacy single byte.
func DecodeFrameReadyQPC(b []byte) (qpc uint64, ok bool) {
	if len(b) < FrameReadyQPCSize {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// ErrMissingLUID is returned by DecodeHelperConfig when the adapter LUID
// field is entirely zero. The production path requires a LUID; there is no
// supported legacy layout without one.
var ErrMissingLUID = errors.New("ipc: helper config missing adapter LUID")

// ConnectionMessage is the handshake record sent by the host naming the
// per-session data pipe the helper should connect to next. The handshake
// puts only the canonical GUID string in PipeName; each side builds the
// full `\\.\pipe\` path from it.
type ConnectionMessage struct {
	PipeName string
}

// EncodeConnectionMessage writes a fixed-width UTF-16 record: 40 code units
// (80 bytes), NUL-padded, no length prefix.
func EncodeConnectionMessage(m ConnectionMessage) ([]byte, error) {
	units := utf16Encode(m.PipeName)
	if len(units) >= MaxPipeNameCodeUnits {
		return nil, errors.Errorf("ipc: pipe name %q exceeds %d code units", m.PipeName, MaxPipeNameCodeUnits-1)
	}
	buf := make([]byte, MaxPipeNameCodeUnits*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf, nil
}

// DecodeConnectionMessage parses a fixed-width handshake record.
func DecodeConnectionMessage(b []byte) (ConnectionMessage, error) {
	if len(b) < MaxPipeNameCodeUnits*2 {
		return ConnectionMessage{}, errors.Errorf("ipc: short connection message: %d bytes", len(b))
	}
	units := make([]uint16, 0, MaxPipeNameCodeUnits)
	for i := 0; i < MaxPipeNameCodeUnits; i++ {
		u := binary.LittleEndian.Uint16(b[i*2:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return ConnectionMessage{PipeName: utf16Decode(units)}, nil
}

// SharedHandleData is published once by the helper after it allocates the
// shared, keyed-mutex-protected texture.
type SharedHandleData struct {
	// TextureHandle is the raw value of the Win32 HANDLE as seen in the
	// helper's process; it is only meaningful when duplicated into the host
	// via DuplicateHandle/OpenSharedResource on a device opened from the
	// same adapter LUID.
	TextureHandle uint64
	Width         uint32
	Height        uint32
}

const sharedHandleDataSize = 8 + 4 + 4

func EncodeSharedHandleData(d SharedHandleData) []byte {
	buf := make([]byte, sharedHandleDataSize)
	binary.LittleEndian.PutUint64(buf[0:], d.TextureHandle)
	binary.LittleEndian.PutUint32(buf[8:], d.Width)
	binary.LittleEndian.PutUint32(buf[12:], d.Height)
	return buf
}

func DecodeSharedHandleData(b []byte) (SharedHandleData, error) {
	if len(b) < sharedHandleDataSize {
		return SharedHandleData{}, errors.Errorf("ipc: short shared handle record: %d bytes", len(b))
	}
	return SharedHandleData{
		TextureHandle: binary.LittleEndian.Uint64(b[0:]),
		Width:         binary.LittleEndian.Uint32(b[8:]),
		Height:        binary.LittleEndian.Uint32(b[12:]),
	}, nil
}

// AdapterLUID is a system-unique GPU adapter identifier; both host and
// helper must open their D3D11 device on the same LUID for the shared
// texture to be interchangeable.
type AdapterLUID struct {
	Low  uint32
	High int32
}

// IsZero reports whether the LUID is the unset sentinel value. A zero LUID
// is rejected outright by DecodeHelperConfig; there is no legacy layout
// without one.
func (l AdapterLUID) IsZero() bool { return l.Low == 0 && l.High == 0 }

// HelperConfig is sent once by the host before capture begins.
type HelperConfig struct {
	DynamicRange int32
	LogLevel     int32
	DisplayName  string // up to 32 UTF-16 code units
	AdapterLUID  AdapterLUID
}

const displayNameCodeUnits = 32
const helperConfigSize = 4 + 4 + displayNameCodeUnits*2 + 4 + 4

func EncodeHelperConfig(c HelperConfig) ([]byte, error) {
	units := utf16Encode(c.DisplayName)
	if len(units) >= displayNameCodeUnits {
		return nil, errors.Errorf("ipc: display name %q exceeds %d code units", c.DisplayName, displayNameCodeUnits-1)
	}
	buf := make([]byte, helperConfigSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(c.DynamicRange))
	binary.LittleEndian.PutUint32(buf[4:], uint32(c.LogLevel))
	off := 8
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[off+i*2:], u)
	}
	off += displayNameCodeUnits * 2
	binary.LittleEndian.PutUint32(buf[off:], c.AdapterLUID.Low)
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(c.AdapterLUID.High))
	return buf, nil
}

func DecodeHelperConfig(b []byte) (HelperConfig, error) {
	if len(b) < helperConfigSize {
		return HelperConfig{}, errors.Errorf("ipc: short helper config record: %d bytes", len(b))
	}
	c := HelperConfig{
		DynamicRange: int32(binary.LittleEndian.Uint32(b[0:])),
		LogLevel:     int32(binary.LittleEndian.Uint32(b[4:])),
	}
	off := 8
	units := make([]uint16, 0, displayNameCodeUnits)
	for i := 0; i < displayNameCodeUnits; i++ {
		u := binary.LittleEndian.Uint16(b[off+i*2:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	c.DisplayName = utf16Decode(units)
	off += displayNameCodeUnits * 2
	c.AdapterLUID = AdapterLUID{
		Low:  binary.LittleEndian.Uint32(b[off:]),
		High: int32(binary.LittleEndian.Uint32(b[off+4:])),
	}
	if c.AdapterLUID.IsZero() {
		return HelperConfig{}, ErrMissingLUID
	}
	return c, nil
}

// utf16Encode/utf16Decode avoid importing unicode/utf16 twice across the
// package; kept local since the wire format only ever carries short,
// BMP-only identifiers (pipe names, display names).
func utf16Encode(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r < 0x10000 {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}

func utf16Decode(units []uint16) string {
	out := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000 {
			r := (rune(u-0xD800) << 10) + rune(units[i+1]-0xDC00) + 0x10000
			out = append(out, r)
			i++
			continue
		}
		out = append(out, rune(u))
	}
	return string(out)
}
