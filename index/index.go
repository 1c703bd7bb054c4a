// Package index implements the fixed 2,050-byte IndexTable: 256 entries of
// 8 bytes each plus a trailing 2-byte CRC-16 over the entries array only
// (spec.md §6).
package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tlvfram/tlvfram/crc16"
	"github.com/tlvfram/tlvfram/port"
)

// NumSlots is the fixed number of index entries (spec.md §3: "up to 256
// distinct tags").
const NumSlots = 256

// entrySize is the fixed 8-byte on-medium size of one Entry.
const entrySize = 8

// Size is the total on-medium size of the table: 256*8 entries + CRC.
const Size = NumSlots*entrySize + 2

// Flags on an Entry. Only Valid and Dirty participate in core logic
// (spec.md §3); the rest are carried through for forward compatibility.
const (
	FlagValid     uint8 = 1 << 0
	FlagDirty     uint8 = 1 << 1
	FlagBackup    uint8 = 1 << 2
	FlagEncrypted uint8 = 1 << 3
	FlagCritical  uint8 = 1 << 4
)

// ErrCRCFailed is returned by Load when the stored CRC doesn't match the
// entries array.
var ErrCRCFailed = errors.New("index: CRC mismatch")

// Entry is one 8-byte row of the index table.
type Entry struct {
	Tag     uint16 // 0 means the slot is empty
	Flags   uint8
	Version uint8
	Addr    uint32 // absolute data address
}

// Valid reports whether the FlagValid bit is set.
func (e Entry) Valid() bool { return e.Flags&FlagValid != 0 }

// Dirty reports whether the FlagDirty bit is set.
func (e Entry) Dirty() bool { return e.Flags&FlagDirty != 0 }

// Table is the in-memory mirror of the on-medium index.
type Table struct {
	Entries [NumSlots]Entry
}

// Init zeroes the table (all slots empty).
func (t *Table) Init() {
	*t = Table{}
}

// Encode serializes t into a Size-byte buffer with a freshly computed CRC.
func (t *Table) Encode() []byte {
	buf := make([]byte, Size)

	for i, e := range t.Entries {
		off := i * entrySize
		binary.LittleEndian.PutUint16(buf[off:], e.Tag)
		buf[off+2] = e.Flags
		buf[off+3] = e.Version
		binary.LittleEndian.PutUint32(buf[off+4:], e.Addr)
	}

	crc := crc16.Checksum(buf[:NumSlots*entrySize])
	binary.LittleEndian.PutUint16(buf[NumSlots*entrySize:], crc)

	return buf
}

// decode parses buf into t without checking the CRC.
func (t *Table) decode(buf []byte) {
	for i := 0; i < NumSlots; i++ {
		off := i * entrySize
		t.Entries[i] = Entry{
			Tag:     binary.LittleEndian.Uint16(buf[off:]),
			Flags:   buf[off+2],
			Version: buf[off+3],
			Addr:    binary.LittleEndian.Uint32(buf[off+4:]),
		}
	}
}

// Verify checks buf's CRC without mutating t.
func Verify(buf []byte) error {
	if len(buf) != Size {
		return fmt.Errorf("index: buffer is %d bytes, want %d", len(buf), Size)
	}

	stored := binary.LittleEndian.Uint16(buf[NumSlots*entrySize:])
	want := crc16.Checksum(buf[:NumSlots*entrySize])

	if stored != want {
		return ErrCRCFailed
	}

	return nil
}

// Load reads Size bytes from addr via p, verifies the CRC, and on success
// populates t.
func (t *Table) Load(p port.Port, addr uint32) error {
	buf := make([]byte, Size)

	if err := p.ReadAt(addr, buf); err != nil {
		return fmt.Errorf("index: load: %w", err)
	}

	if err := Verify(buf); err != nil {
		return err
	}

	t.decode(buf)

	return nil
}

// Save recomputes the CRC and writes t to addr via p.
func (t *Table) Save(p port.Port, addr uint32) error {
	if err := p.WriteAt(addr, t.Encode()); err != nil {
		return fmt.Errorf("index: save: %w", err)
	}

	return nil
}

// Find does a linear scan for a VALID entry matching tag. Returns the slot
// index and true, or (-1, false).
func (t *Table) Find(tag uint16) (int, bool) {
	for i := range t.Entries {
		if t.Entries[i].Tag == tag && t.Entries[i].Valid() {
			return i, true
		}
	}

	return -1, false
}

// FindHint is the fast-lookup variant: it checks slotHint first (if in
// range), then falls back to a full linear scan. Correctness does not
// depend on whether Find or FindHint is used (spec.md §4.2); FindHint is an
// optimization for callers that know a tag's typical slot via
// meta.Table.PriorityOrder.
func (t *Table) FindHint(tag uint16, slotHint int) (int, bool) {
	if slotHint >= 0 && slotHint < NumSlots {
		if e := t.Entries[slotHint]; e.Tag == tag && e.Valid() {
			return slotHint, true
		}
	}

	return t.Find(tag)
}

// FindFreeSlot returns the index of the first entry with Tag == 0, or
// (-1, false) if the table is full.
func (t *Table) FindFreeSlot() (int, bool) {
	for i := range t.Entries {
		if t.Entries[i].Tag == 0 {
			return i, true
		}
	}

	return -1, false
}

// Add populates a free slot for tag at addr with the given schema version.
// If tag already has a VALID entry, Add returns its existing slot index and
// ok=false to signal "already present" rather than erroring — callers
// (engine) are expected to have already branched on this via Find.
func (t *Table) Add(tag uint16, addr uint32, version uint8) (slot int, ok bool) {
	if existing, found := t.Find(tag); found {
		return existing, false
	}

	free, hasFree := t.FindFreeSlot()
	if !hasFree {
		return -1, false
	}

	t.Entries[free] = Entry{
		Tag:     tag,
		Flags:   FlagValid,
		Version: version,
		Addr:    addr,
	}

	return free, true
}

// Update rewrites the address of an existing entry for tag, clears DIRTY,
// reasserts VALID, and refreshes the schema version. The tag's VALID entry
// is the one updated; only when it has none is the first entry carrying the
// tag (a DIRTY one) revived. Returns false if tag has no entry at all
// (valid or not) to update.
func (t *Table) Update(tag uint16, addr uint32, version uint8) bool {
	slot, found := t.Find(tag)

	for i := range t.Entries {
		if found {
			break
		}

		if t.Entries[i].Tag == tag {
			slot, found = i, true
		}
	}

	if !found {
		return false
	}

	t.Entries[slot].Addr = addr
	t.Entries[slot].Version = version
	t.Entries[slot].Flags = (t.Entries[slot].Flags &^ FlagDirty) | FlagValid

	return true
}

// MarkDirty clears VALID and sets DIRTY on the entry at slot, without
// reclaiming its address — the space becomes fragment waste until
// defragment runs (spec.md §4.5 step 5).
func (t *Table) MarkDirty(slot int) {
	t.Entries[slot].Flags = (t.Entries[slot].Flags &^ FlagValid) | FlagDirty
}

// Remove zeroes the entry at slot entirely (used by delete, which reclaims
// the index row itself even though the data-region bytes remain waste until
// defragment).
func (t *Table) Remove(slot int) {
	t.Entries[slot] = Entry{}
}

// CountValid returns the number of entries with FlagValid set.
func (t *Table) CountValid() int {
	n := 0

	for _, e := range t.Entries {
		if e.Valid() {
			n++
		}
	}

	return n
}
