package memport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlvfram/tlvfram/port"
	"github.com/tlvfram/tlvfram/port/memport"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	m := memport.New(1024)

	require.NoError(t, m.WriteAt(100, []byte("hello")))

	buf := make([]byte, 5)
	require.NoError(t, m.ReadAt(100, buf))

	assert.Equal(t, "hello", string(buf))
}

func TestReadAtOutOfRangeFails(t *testing.T) {
	t.Parallel()

	m := memport.New(16)

	err := m.ReadAt(10, make([]byte, 10))
	require.ErrorIs(t, err, port.ErrOutOfRange)
}

func TestWriteAtOutOfRangeFails(t *testing.T) {
	t.Parallel()

	m := memport.New(16)

	err := m.WriteAt(8, make([]byte, 16))
	require.ErrorIs(t, err, port.ErrOutOfRange)
}

func TestNewFromBytesWrapsWithoutCopying(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 16)
	m := memport.NewFromBytes(raw)

	require.NoError(t, m.WriteAt(0, []byte("x")))
	assert.Equal(t, byte('x'), raw[0])
}

func TestSizeReportsBackingLength(t *testing.T) {
	t.Parallel()

	m := memport.New(256)
	assert.Equal(t, 256, m.Size())
}
