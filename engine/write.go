package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/index"
	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/record"
	"github.com/tlvfram/tlvfram/txn"
)

// Write implements spec.md §4.5: single-shot create-or-update of tag's
// record. tag must be non-zero, data non-empty, and len(data) must not
// exceed the tag's declared max length.
func (e *Engine) Write(tag uint16, data []byte) error {
	if err := e.requireInitialised(); err != nil {
		return err
	}

	if tag == 0 || len(data) == 0 {
		return e.fail(tag, "engine.Write", fmt.Errorf("%w: tag must be non-zero and data non-empty", ErrInvalidParam))
	}

	m, err := e.metaFor(tag)
	if err != nil {
		return e.fail(tag, "engine.Write", err)
	}

	if len(data) > int(m.MaxLength) {
		return e.fail(tag, "engine.Write", fmt.Errorf("%w: %d bytes exceeds max length %d for tag 0x%04X", ErrInvalidParam, len(data), m.MaxLength, tag))
	}

	return e.fail(tag, "engine.Write", classify(e.writeLocked(tag, m, data)))
}

// writeLocked performs steps 2-8 of spec.md §4.5. It is also the write path
// migration write-back reuses, so tag/meta are already validated by the
// caller.
func (e *Engine) writeLocked(tag uint16, m meta.Entry, data []byte) error {
	snap := txn.Take(&e.hdr)
	oldIdx := e.idx

	newFrameSize := record.FrameSize(len(data))

	slot, found := e.idx.Find(tag)

	var (
		targetAddr  uint32
		addNew      bool
		oldFrame    uint32
		oldSlot     int
		inPlace     bool
		oldHeader   record.Header
		haveOldHdr  bool
	)

	if found {
		entry := e.idx.Entries[slot]

		h, err := record.ReadHeader(e.port, entry.Addr)
		if err != nil {
			return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: write: read old frame header: %w", err))
		}

		oldHeader, haveOldHdr = h, true
		oldFrame = record.FrameSize(int(oldHeader.PayloadLen))
		oldSlot = slot

		if newFrameSize <= oldFrame {
			inPlace = true
			targetAddr = entry.Addr
			e.hdr.UsedBytes = e.hdr.UsedBytes - oldFrame + newFrameSize
		} else {
			addNew = true

			if _, hasFree := e.idx.FindFreeSlot(); !hasFree {
				return e.rollbackWrite(snap, oldIdx, ErrNoIndexSpace)
			}

			addr, ok := e.alloc.Alloc(newFrameSize)
			if !ok {
				return e.rollbackWrite(snap, oldIdx, ErrNoMemorySpace)
			}

			targetAddr = addr
			e.hdr.NextFreeAddr = e.alloc.Next()
			e.hdr.FreeBytes -= newFrameSize
			e.hdr.UsedBytes += newFrameSize
		}
	} else {
		if _, hasFree := e.idx.FindFreeSlot(); !hasFree {
			return e.rollbackWrite(snap, oldIdx, ErrNoIndexSpace)
		}

		addr, ok := e.alloc.Alloc(newFrameSize)
		if !ok {
			return e.rollbackWrite(snap, oldIdx, ErrNoMemorySpace)
		}

		targetAddr = addr
		e.hdr.NextFreeAddr = e.alloc.Next()
		e.hdr.FreeBytes -= newFrameSize
		e.hdr.UsedBytes += newFrameSize
	}

	writeCounter := record.NextWriteCounter(oldHeader, haveOldHdr && inPlace, tag)

	if err := record.Write(e.port, targetAddr, tag, data, m.Version, writeCounter, e.clock.NowSeconds()); err != nil {
		return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: write: %w", err))
	}

	if addNew {
		if found {
			e.idx.MarkDirty(oldSlot)
			e.hdr.UsedBytes -= oldFrame
			e.hdr.FragmentCount++
			e.hdr.FragmentWaste += oldFrame
		}

		if _, ok := e.idx.Add(tag, targetAddr, m.Version); !ok {
			return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: write: %w: index.Add unexpectedly failed after free-slot check", ErrNoIndexSpace))
		}
	} else {
		if !e.idx.Update(tag, targetAddr, m.Version) {
			return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: write: %w: index.Update found no entry for tag 0x%04X", ErrCorrupted, tag))
		}
	}

	e.hdr.TagCount = uint16(e.idx.CountValid())

	if err := e.idx.Save(e.port, e.layout.IndexAddr); err != nil {
		return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: write: save index: %w", err))
	}

	// Commit point passed: the new record is now observable and any DIRTY
	// predecessor is permanently abandoned (spec.md §4.5 step 6).
	e.hdr.TotalWrites++
	e.hdr.LastUpdateTime = e.clock.NowSeconds()

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		return fmt.Errorf("engine: write: save header after commit: %w", err)
	}

	e.maybeAutoDefragment()

	return nil
}

// rollbackWrite restores the header snapshot and index, persists the header,
// and returns the original error. If that header save itself fails, the
// save error is returned instead, with the original error included in its
// message only.
func (e *Engine) rollbackWrite(snap txn.Snapshot, oldIdx index.Table, cause error) error {
	snap.Restore(&e.hdr)
	e.idx = oldIdx
	e.alloc.SetNext(e.hdr.NextFreeAddr)

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		return fmt.Errorf("%w (while rolling back after: %v)", err, cause)
	}

	return cause
}

// maybeAutoDefragment runs Defragment when config.Config.AutoCleanFragment
// is set and the current fragmentation percentage is at or above the
// configured threshold (spec.md §4.5 step 8). A defragment failure here is
// logged, not surfaced: the write itself already committed successfully.
func (e *Engine) maybeAutoDefragment() {
	if !e.cfg.AutoCleanFragment {
		return
	}

	if e.fragmentationPercent() < e.cfg.AutoDefragThresholdPercent {
		return
	}

	if err := e.defragmentLocked(); err != nil {
		e.log.Warnw("engine: auto-defragment failed", "error", err)
	}
}

// fragmentationPercent returns round-down percentage of the data region
// occupied by fragment waste.
func (e *Engine) fragmentationPercent() int {
	if e.layout.DataSize == 0 {
		return 0
	}

	return int(uint64(e.hdr.FragmentWaste) * 100 / uint64(e.layout.DataSize))
}
