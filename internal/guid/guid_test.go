package guid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizardbyte/sunshine-wgc/internal/guid"
)

func TestNewIsVersion4Variant1(t *testing.T) {
	g, err := guid.New()
	require.NoError(t, err)

	// version nibble lives in the top 4 bits of Data3.
	assert.Equal(t, uint16(4), (g.Data3&0xF000)>>12)
	// RFC 4122 variant lives in the top 2 bits of Data4[0].
	assert.Equal(t, byte(0x80), g.Data4[0]&0xC0)
}

func TestStringRoundTrip(t *testing.T) {
	g, err := guid.New()
	require.NoError(t, err)

	parsed, err := guid.FromString(g.String())
	require.NoError(t, err)
	assert.Equal(t, g, parsed)
}

func TestFromStringRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-guid",
		"00000000-0000-0000-0000-00000000000",   // too short
		"000000000-000-0000-0000-000000000000", // misplaced dash
	}
	for _, c := range cases {
		_, err := guid.FromString(c)
		assert.Error(t, err, c)
	}
}

func TestPipeNameIsWellFormed(t *testing.T) {
	g, err := guid.New()
	require.NoError(t, err)

	name := g.PipeName()
	assert.Contains(t, name, `\\.\pipe\`)
	assert.Contains(t, name, g.String())
}
