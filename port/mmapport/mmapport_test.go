package mmapport_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlvfram/tlvfram/port"
	"github.com/tlvfram/tlvfram/port/mmapport"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medium.img")

	mp, err := mmapport.Open(path, 256)
	require.NoError(t, err)
	defer func() { _ = mp.Close() }()

	require.NoError(t, mp.WriteAt(10, []byte("fram")))

	buf := make([]byte, 4)
	require.NoError(t, mp.ReadAt(10, buf))
	assert.Equal(t, "fram", string(buf))
}

func TestReadAtOutOfRangeFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medium.img")

	mp, err := mmapport.Open(path, 16)
	require.NoError(t, err)
	defer func() { _ = mp.Close() }()

	err = mp.ReadAt(10, make([]byte, 10))
	require.ErrorIs(t, err, port.ErrOutOfRange)
}

func TestWriteAtOutOfRangeFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medium.img")

	mp, err := mmapport.Open(path, 16)
	require.NoError(t, err)
	defer func() { _ = mp.Close() }()

	err = mp.WriteAt(8, make([]byte, 16))
	require.ErrorIs(t, err, port.ErrOutOfRange)
}

func TestSyncPersistsWritesAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "medium.img")

	mp, err := mmapport.Open(path, 64)
	require.NoError(t, err)

	require.NoError(t, mp.WriteAt(0, []byte("durable")))
	require.NoError(t, mp.Sync())
	require.NoError(t, mp.Close())

	reopened, err := mmapport.Open(path, 64)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	buf := make([]byte, 7)
	require.NoError(t, reopened.ReadAt(0, buf))
	assert.Equal(t, "durable", string(buf))
}
