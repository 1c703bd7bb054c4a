package header_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/port/memport"
)

func TestInitSetsGeometryAndLeavesAccountingZero(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)

	assert.Equal(t, uint32(header.DefaultMagic), h.Magic)
	assert.Equal(t, header.FormatVersion, h.FormatVersion)
	assert.Equal(t, uint32(0x1000), h.DataRegionStart)
	assert.Equal(t, uint32(0x2000), h.DataRegionSize)
	assert.Equal(t, uint32(0x1000), h.NextFreeAddr)
	assert.Equal(t, uint32(0x2000), h.FreeBytes)
	assert.Zero(t, h.UsedBytes)
	assert.Zero(t, h.TotalWrites)
}

func TestInitCustomMagic(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0xCAFEBABE, 0, 0x100)

	assert.Equal(t, uint32(0xCAFEBABE), h.Magic)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)
	h.TagCount = 3
	h.TotalWrites = 7
	h.UsedBytes = 128
	h.FreeBytes = h.DataRegionSize - h.UsedBytes
	h.FragmentCount = 1
	h.FragmentWaste = 64

	buf := h.Encode()
	require.Len(t, buf, header.Size)

	var got header.SystemHeader
	got.Decode(buf)

	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyDetectsCRCCorruption(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)

	buf := h.Encode()
	buf[10] ^= 0xFF // corrupt a byte inside the CRC-covered range

	err := header.Verify(buf, 0)
	require.ErrorIs(t, err, header.ErrCRCFailed)
}

func TestVerifyDetectsMagicMismatch(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0xAAAAAAAA, 0x1000, 0x2000)

	buf := h.Encode()

	err := header.Verify(buf, 0xBBBBBBBB)
	require.ErrorIs(t, err, header.ErrCorrupted)
}

func TestVerifyAcceptsAnyMagicWhenExpectIsZero(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0xAAAAAAAA, 0x1000, 0x2000)

	buf := h.Encode()

	require.NoError(t, header.Verify(buf, 0))
}

func TestVerifyRejectsWrongBufferSize(t *testing.T) {
	t.Parallel()

	err := header.Verify(make([]byte, header.Size-1), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, header.ErrCRCFailed)
}

func TestVerifyRejectsDifferentMajorVersion(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)
	h.FormatVersion = header.FormatVersion + 0x0100 // bump the major byte

	buf := h.Encode()

	err := header.Verify(buf, 0)
	require.ErrorIs(t, err, header.ErrVersion)
}

func TestVerifyAcceptsMinorNotNewerThanBuild(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)
	h.FormatVersion = header.FormatVersion &^ 0xFF // same major, minor 0 (never newer than this build's)

	buf := h.Encode()

	require.NoError(t, header.Verify(buf, 0))
}

func TestVerifyRejectsNewerMinorVersion(t *testing.T) {
	t.Parallel()

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)
	h.FormatVersion = header.FormatVersion + 1 // same major, newer minor

	buf := h.Encode()

	err := header.Verify(buf, 0)
	require.ErrorIs(t, err, header.ErrVersion)
}

func TestLoadSaveRoundTripThroughPort(t *testing.T) {
	t.Parallel()

	mem := memport.New(4096)

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)
	h.TagCount = 5

	require.NoError(t, h.Save(mem, 0))

	var got header.SystemHeader
	require.NoError(t, got.Load(mem, 0, 0))

	assert.Equal(t, h, got)
}

func TestLoadRejectsCorruptedOnMedium(t *testing.T) {
	t.Parallel()

	mem := memport.New(4096)

	var h header.SystemHeader
	h.Init(0, 0x1000, 0x2000)
	require.NoError(t, h.Save(mem, 0))

	raw := mem.Bytes()
	raw[5] ^= 0xFF

	var got header.SystemHeader
	err := got.Load(mem, 0, 0)
	require.ErrorIs(t, err, header.ErrCRCFailed)
}
