package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlvfram/tlvfram/index"
	"github.com/tlvfram/tlvfram/port/memport"
)

func TestAddAssignsFreeSlotAndMarksValid(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	slot, ok := tbl.Add(0x1001, 0x2000, 1)
	require.True(t, ok)

	entry := tbl.Entries[slot]
	assert.Equal(t, uint16(0x1001), entry.Tag)
	assert.Equal(t, uint32(0x2000), entry.Addr)
	assert.True(t, entry.Valid())
	assert.False(t, entry.Dirty())
}

func TestAddRejectsDuplicateValidTag(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	_, ok := tbl.Add(0x1001, 0x2000, 1)
	require.True(t, ok)

	slot, ok := tbl.Add(0x1001, 0x3000, 1)
	assert.False(t, ok)
	assert.Equal(t, 0, slot) // the existing slot, not a new one
}

func TestAddFailsWhenTableFull(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	for i := 0; i < index.NumSlots; i++ {
		_, ok := tbl.Add(uint16(i+1), uint32(i*64), 1)
		require.True(t, ok)
	}

	_, ok := tbl.Add(uint16(index.NumSlots+1), 0, 1)
	assert.False(t, ok)
}

func TestFindOnlyMatchesValidEntries(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	slot, _ := tbl.Add(0x2002, 0x1000, 1)
	tbl.MarkDirty(slot)

	_, found := tbl.Find(0x2002)
	assert.False(t, found)
}

func TestFindHintFallsBackToLinearScan(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	slot, ok := tbl.Add(0x3003, 0x4000, 1)
	require.True(t, ok)

	got, found := tbl.FindHint(0x3003, (slot+1)%index.NumSlots)
	require.True(t, found)
	assert.Equal(t, slot, got)
}

func TestUpdateRefreshesAddrAndClearsDirty(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	slot, _ := tbl.Add(0x4004, 0x1000, 1)
	tbl.MarkDirty(slot)

	ok := tbl.Update(0x4004, 0x9000, 2)
	require.True(t, ok)

	entry := tbl.Entries[slot]
	assert.True(t, entry.Valid())
	assert.False(t, entry.Dirty())
	assert.Equal(t, uint32(0x9000), entry.Addr)
	assert.Equal(t, uint8(2), entry.Version)
}

func TestRemoveZeroesSlot(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	slot, _ := tbl.Add(0x5005, 0x1000, 1)
	tbl.Remove(slot)

	assert.Equal(t, index.Entry{}, tbl.Entries[slot])
	_, found := tbl.Find(0x5005)
	assert.False(t, found)
}

func TestCountValidCountsOnlyValidFlag(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()

	tbl.Add(0x0001, 0x100, 1)
	tbl.Add(0x0002, 0x200, 1)
	slot, _ := tbl.Add(0x0003, 0x300, 1)
	tbl.MarkDirty(slot)

	assert.Equal(t, 2, tbl.CountValid())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()
	tbl.Add(0xABCD, 0x1234, 3)

	buf := tbl.Encode()
	require.Len(t, buf, index.Size)
	require.NoError(t, index.Verify(buf))

	var got index.Table
	require.NoError(t, got.Load(memportFrom(buf), 0))

	assert.Equal(t, tbl, got)
}

func TestVerifyDetectsCRCMismatch(t *testing.T) {
	t.Parallel()

	var tbl index.Table
	tbl.Init()
	tbl.Add(0x1111, 0x2222, 1)

	buf := tbl.Encode()
	buf[0] ^= 0xFF

	err := index.Verify(buf)
	require.ErrorIs(t, err, index.ErrCRCFailed)
}

func TestLoadSaveThroughPort(t *testing.T) {
	t.Parallel()

	mem := memport.New(4096)

	var tbl index.Table
	tbl.Init()
	tbl.Add(0x7777, 0x100, 2)

	require.NoError(t, tbl.Save(mem, 0))

	var got index.Table
	require.NoError(t, got.Load(mem, 0))

	assert.Equal(t, tbl, got)
}

func memportFrom(buf []byte) *memport.Mem {
	return memport.NewFromBytes(buf)
}
