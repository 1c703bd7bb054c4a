package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlvfram/tlvfram/config"
	"github.com/tlvfram/tlvfram/engine"
	"github.com/tlvfram/tlvfram/internal/obslog"
	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/port"
	"github.com/tlvfram/tlvfram/port/chaosport"
	"github.com/tlvfram/tlvfram/port/memport"
)

// testLayout is deliberately small so backup/defrag staging-buffer loops stay
// cheap in tests, unlike engine.DefaultLayout's 0x3E000-byte medium.
var testLayout = engine.Layout{
	HeaderAddr: 0,
	IndexAddr:  0x100,
	DataAddr:   0x1000,
	DataSize:   0x2000,
	BackupAddr: 0x4000,
}

func testMediumSize() int {
	return int(testLayout.BackupAddr) + int(testLayout.BackupSize())
}

func testMeta(t *testing.T, entries ...meta.Entry) *meta.Table {
	t.Helper()

	tbl, err := meta.NewTable(entries)
	require.NoError(t, err)

	return tbl
}

func newFormattedEngine(t *testing.T, p port.Port, metaTable *meta.Table) *engine.Engine {
	t.Helper()

	e, err := engine.New(p, port.SystemClock{}, testLayout, metaTable, config.Default(), nil)
	require.NoError(t, err)

	require.NoError(t, e.Format(0))

	recovered, err := e.Init()
	require.NoError(t, err)
	require.False(t, recovered)

	return e
}

func TestLifecycleStatesTransitionCorrectly(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 1, MaxLength: 32, Version: 1})

	e, err := engine.New(mem, port.SystemClock{}, testLayout, m, config.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.Uninitialised, e.State())

	require.NoError(t, e.Format(0))
	assert.Equal(t, engine.Formatted, e.State())

	recovered, err := e.Init()
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Equal(t, engine.Initialised, e.State())

	e.Deinit()
	assert.Equal(t, engine.Uninitialised, e.State())
}

func TestNewRejectsInvalidLayout(t *testing.T) {
	t.Parallel()

	bad := engine.Layout{HeaderAddr: 0, IndexAddr: 10, DataAddr: 20, DataSize: 0, BackupAddr: 30}

	_, err := engine.New(memport.New(1024), port.SystemClock{}, bad, testMeta(t), config.Default(), nil)
	require.Error(t, err)
}

func TestOperationsRequireInitialised(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 1, MaxLength: 32, Version: 1})

	e, err := engine.New(mem, port.SystemClock{}, testLayout, m, config.Default(), nil)
	require.NoError(t, err)

	err = e.Write(1, []byte("x"))
	require.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("hello tlvfram")))

	buf := make([]byte, 64)
	n, err := e.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello tlvfram", string(buf[:n]))
}

func TestWriteRejectsUnknownTag(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	err := e.Write(0x99, []byte("x"))
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestWriteRejectsOverMaxLength(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 4, Version: 1})
	e := newFormattedEngine(t, mem, m)

	err := e.Write(0x10, []byte("too long"))
	require.ErrorIs(t, err, engine.ErrInvalidParam)
}

func TestWriteRejectsZeroTagOrEmptyData(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 4, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.ErrorIs(t, e.Write(0, []byte("x")), engine.ErrInvalidParam)
	require.ErrorIs(t, e.Write(0x10, nil), engine.ErrInvalidParam)
}

func TestReadMissingTagFails(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	_, err := e.Read(0x10, make([]byte, 64))
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestWriteUpdateInPlaceWhenNewFrameFitsOld(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("0123456789")))
	statsBefore, err := e.Statistics()
	require.NoError(t, err)

	require.NoError(t, e.Write(0x10, []byte("short")))
	statsAfter, err := e.Statistics()
	require.NoError(t, err)

	// Shrinking in place must not create fragment waste.
	assert.Equal(t, statsBefore.FragmentWaste, statsAfter.FragmentWaste)

	buf := make([]byte, 64)
	n, err := e.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "short", string(buf[:n]))
}

func TestWriteGrowsAndDisplacesOldFrame(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("short")))
	require.NoError(t, e.Write(0x10, []byte("a much longer payload than before")))

	stats, err := e.Statistics()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.FragmentCount)
	assert.Positive(t, stats.FragmentWaste)

	buf := make([]byte, 64)
	n, err := e.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "a much longer payload than before", string(buf[:n]))
}

func TestDeleteRemovesTagAndAccountsWaste(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("payload")))
	require.NoError(t, e.Delete(0x10))

	assert.False(t, e.Exists(0x10))

	_, err := e.Read(0x10, make([]byte, 64))
	require.ErrorIs(t, err, engine.ErrNotFound)

	stats, err := e.Statistics()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.FragmentCount)
	assert.Positive(t, stats.FragmentWaste)
}

func TestDeleteMissingTagFails(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	err := e.Delete(0x10)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDefragmentReclaimsFragmentWaste(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t,
		meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1},
		meta.Entry{Tag: 0x20, MaxLength: 64, Version: 1},
	)
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("aaaa")))
	require.NoError(t, e.Write(0x20, []byte("bbbb")))
	require.NoError(t, e.Delete(0x10))

	before, err := e.Statistics()
	require.NoError(t, err)
	require.Positive(t, before.FragmentWaste)

	res, err := e.Defragment()
	require.NoError(t, err)
	assert.Positive(t, res.MovedFrames)

	after, err := e.Statistics()
	require.NoError(t, err)
	assert.Zero(t, after.FragmentWaste)
	assert.Zero(t, after.FragmentCount)

	buf := make([]byte, 64)
	n, err := e.Read(0x20, buf)
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(buf[:n]))
}

func TestDefragmentRejectedWithOpenStreamHandle(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	_, err := e.WriteBegin(0x10, 4)
	require.NoError(t, err)

	_, err = e.Defragment()
	require.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestVerifyAllPassesOnCleanMedium(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("payload")))
	require.NoError(t, e.VerifyAll())
}

func TestVerifyAllDetectsHeaderCorruption(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("payload")))

	// Flip a header byte on the medium without touching its trailing CRC.
	raw := mem.Bytes()
	raw[testLayout.HeaderAddr+0x06] ^= 0xFF

	err := e.VerifyAll()
	require.Error(t, err)
}

func TestBackupAllThenRestoreFromBackup(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("payload")))
	require.NoError(t, e.BackupAll())

	require.NoError(t, e.Write(0x10, []byte("a different, later payload")))

	require.NoError(t, e.RestoreFromBackup())

	buf := make([]byte, 64)
	n, err := e.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestInitRecoversFromCorruptedIndexViaBackup(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("payload")))

	raw := mem.Bytes()
	raw[testLayout.IndexAddr] ^= 0xFF // torn index write

	e2, err := engine.New(mem, port.SystemClock{}, testLayout, m, config.Default(), nil)
	require.NoError(t, err)

	recovered, err := e2.Init()
	require.NoError(t, err)
	assert.True(t, recovered)
	// Backup was taken at Format time, before the write, so recovery loses it.
	assert.False(t, e2.Exists(0x10))
}

func TestStreamWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 256, Version: 1})
	e := newFormattedEngine(t, mem, m)

	data := []byte("a payload delivered in three separate chunks of varying size")

	tok, err := e.WriteBegin(0x10, uint32(len(data)))
	require.NoError(t, err)

	require.NoError(t, e.WriteChunk(tok, data[:10]))
	require.NoError(t, e.WriteChunk(tok, data[10:40]))
	require.NoError(t, e.WriteChunk(tok, data[40:]))
	require.NoError(t, e.WriteEnd(tok))

	rtok, total, err := e.ReadBegin(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)), total)

	buf := make([]byte, total)
	n1, err := e.ReadChunk(rtok, buf[:20])
	require.NoError(t, err)
	n2, err := e.ReadChunk(rtok, buf[20:])
	require.NoError(t, err)
	require.NoError(t, e.ReadEnd(rtok))

	assert.Equal(t, data, buf[:n1+n2])
}

func TestStreamWriteAbortRestoresAccounting(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 256, Version: 1})
	e := newFormattedEngine(t, mem, m)

	before, err := e.Statistics()
	require.NoError(t, err)

	tok, err := e.WriteBegin(0x10, 50)
	require.NoError(t, err)
	require.NoError(t, e.WriteChunk(tok, make([]byte, 20)))
	require.NoError(t, e.WriteAbort(tok))

	after, err := e.Statistics()
	require.NoError(t, err)

	// The bump allocator's pointer is rolled back along with the header
	// snapshot, so free space reads as if the reservation never happened;
	// the abandoned region is tracked purely as fragment waste.
	assert.Equal(t, before.FreeBytes, after.FreeBytes)
	assert.Positive(t, after.FragmentWaste)
	assert.False(t, e.Exists(0x10))
}

func TestStreamHandleTokenInvalidAfterRelease(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 256, Version: 1})
	e := newFormattedEngine(t, mem, m)

	tok, err := e.WriteBegin(0x10, 4)
	require.NoError(t, err)
	require.NoError(t, e.WriteChunk(tok, []byte("data")))
	require.NoError(t, e.WriteEnd(tok))

	err = e.WriteChunk(tok, []byte("more"))
	require.ErrorIs(t, err, engine.ErrInvalidHandle)
}

type doubleMigrator struct{}

func (doubleMigrator) UpgradeStep(buf []byte, oldLen, maxSize int, oldVer, newVer uint8) (int, error) {
	out := append([]byte(nil), buf[:oldLen]...)
	out = append(out, buf[:oldLen]...) // duplicate the payload as the "v2" shape

	n := copy(buf[:maxSize], out)

	return n, nil
}

func TestLazyMigrateOnReadUpgradesAndWritesBack(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 2, Migrate: doubleMigrator{}})

	// Format with a table where the tag is still at version 1, so the
	// written record is stamped v1 and read-time migration kicks in.
	v1Table := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})

	e, err := engine.New(mem, port.SystemClock{}, testLayout, v1Table, config.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, e.Format(0))
	_, err = e.Init()
	require.NoError(t, err)
	require.NoError(t, e.Write(0x10, []byte("ab")))
	e.Deinit()

	e2, err := engine.New(mem, port.SystemClock{}, testLayout, m, config.Default(), nil)
	require.NoError(t, err)
	_, err = e2.Init()
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := e2.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "abab", string(buf[:n]))
}

func TestAutoMigrateOnBootUpgradesEagerly(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	v1Table := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})

	e, err := engine.New(mem, port.SystemClock{}, testLayout, v1Table, config.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, e.Format(0))
	_, err = e.Init()
	require.NoError(t, err)
	require.NoError(t, e.Write(0x10, []byte("ab")))
	e.Deinit()

	cfg := config.Default()
	cfg.AutoMigrateOnBoot = true

	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 2, Migrate: doubleMigrator{}})

	e2, err := engine.New(mem, port.SystemClock{}, testLayout, m, cfg, nil)
	require.NoError(t, err)
	_, err = e2.Init()
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := e2.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "abab", string(buf[:n]))
}

func TestErrorHistoryAndLastErrorAreRecorded(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	_, err := e.Read(0x99, make([]byte, 8))
	require.Error(t, err)

	last, ok := e.LastError()
	require.True(t, ok)
	assert.Equal(t, uint16(0x99), last.Tag)
	assert.Equal(t, "engine.Read", last.Site)

	hist := e.ErrorHistory()
	require.NotEmpty(t, hist)
}

func TestCrashBeforeRecordHeaderWriteLeavesMediumUnchanged(t *testing.T) {
	t.Parallel()

	m := testMeta(t,
		meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1},
		meta.Entry{Tag: 0x20, MaxLength: 64, Version: 1},
	)

	mem1 := memport.New(testMediumSize())
	e1 := newFormattedEngine(t, mem1, m)
	require.NoError(t, e1.Write(0x10, []byte("settled")))

	snapshot := append([]byte(nil), mem1.Bytes()...)

	mem2 := memport.NewFromBytes(snapshot)
	chaos := chaosport.New(mem2, 1, chaosport.Config{})
	chaos.CrashOnWrite(1, -1) // the very first WriteAt through this chaos port fails outright

	e2, err := engine.New(chaos, port.SystemClock{}, testLayout, m, config.Default(), nil)
	require.NoError(t, err)

	_, err = e2.Init()
	require.NoError(t, err)

	err = e2.Write(0x20, []byte("new data"))
	require.Error(t, err)

	assert.False(t, e2.Exists(0x20))

	buf := make([]byte, 64)
	n, err := e2.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "settled", string(buf[:n]))
}

func TestCrashDuringIndexCommitLeavesPriorIndexIntact(t *testing.T) {
	t.Parallel()

	m := testMeta(t,
		meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1},
		meta.Entry{Tag: 0x20, MaxLength: 64, Version: 1},
	)

	mem1 := memport.New(testMediumSize())
	e1 := newFormattedEngine(t, mem1, m)
	require.NoError(t, e1.Write(0x10, []byte("settled")))

	snapshot := append([]byte(nil), mem1.Bytes()...)

	mem2 := memport.NewFromBytes(snapshot)
	chaos := chaosport.New(mem2, 1, chaosport.Config{})
	// record.Write issues 3 WriteAt calls (header, payload, CRC); the 4th
	// WriteAt is index.Save, the commit point. Fail it outright.
	chaos.CrashOnWrite(4, -1)

	e2, err := engine.New(chaos, port.SystemClock{}, testLayout, m, config.Default(), nil)
	require.NoError(t, err)

	_, err = e2.Init()
	require.NoError(t, err)

	err = e2.Write(0x20, []byte("new data"))
	require.Error(t, err)

	assert.False(t, e2.Exists(0x20))

	buf := make([]byte, 64)
	n, err := e2.Read(0x10, buf)
	require.NoError(t, err)
	assert.Equal(t, "settled", string(buf[:n]))
}

func TestStatisticsAndFragmentationReflectState(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("data")))

	stats, err := e.Statistics()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), stats.TagCount)

	frag, err := e.Fragmentation()
	require.NoError(t, err)
	assert.Zero(t, frag)
}

func TestForEachVisitsValidEntriesOnly(t *testing.T) {
	t.Parallel()

	mem := memport.New(testMediumSize())
	m := testMeta(t,
		meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1},
		meta.Entry{Tag: 0x20, MaxLength: 64, Version: 1},
	)
	e := newFormattedEngine(t, mem, m)

	require.NoError(t, e.Write(0x10, []byte("a")))
	require.NoError(t, e.Write(0x20, []byte("b")))
	require.NoError(t, e.Delete(0x10))

	var seen []uint16
	require.NoError(t, e.ForEach(func(tag uint16, addr uint32, version uint8) bool {
		seen = append(seen, tag)

		return true
	}))

	assert.Equal(t, []uint16{0x20}, seen)
}

func TestEngineWithLoggerDoesNotPanic(t *testing.T) {
	t.Parallel()

	log, err := obslog.NewDevelopment()
	require.NoError(t, err)
	defer func() { _ = log.Sync() }()

	mem := memport.New(testMediumSize())
	m := testMeta(t, meta.Entry{Tag: 0x10, MaxLength: 64, Version: 1})

	e, err := engine.New(mem, port.SystemClock{}, testLayout, m, config.Default(), log)
	require.NoError(t, err)
	require.NoError(t, e.Format(0))
	_, err = e.Init()
	require.NoError(t, err)

	require.NoError(t, e.Write(0x10, []byte("x")))
}
