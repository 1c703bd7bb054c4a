package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/record"
	"github.com/tlvfram/tlvfram/txn"
)

// Delete implements spec.md §4.7: remove tag's index entry and account its
// frame as fragment waste. Deletion is durable only once Index is saved.
func (e *Engine) Delete(tag uint16) error {
	if err := e.requireInitialised(); err != nil {
		return err
	}

	return e.fail(tag, "engine.Delete", classify(e.deleteLocked(tag)))
}

func (e *Engine) deleteLocked(tag uint16) error {
	slot, found := e.idx.Find(tag)
	if !found {
		return fmt.Errorf("%w: tag 0x%04X", ErrNotFound, tag)
	}

	entry := e.idx.Entries[slot]

	snap := txn.Take(&e.hdr)
	oldIdx := e.idx

	h, err := record.ReadHeader(e.port, entry.Addr)
	if err != nil {
		return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: delete: read record header: %w", err))
	}

	frameSize := record.FrameSize(int(h.PayloadLen))

	e.hdr.UsedBytes -= frameSize
	e.hdr.FragmentCount++
	e.hdr.FragmentWaste += frameSize

	e.idx.Remove(slot)
	e.hdr.TagCount = uint16(e.idx.CountValid())

	if err := e.idx.Save(e.port, e.layout.IndexAddr); err != nil {
		return e.rollbackWrite(snap, oldIdx, fmt.Errorf("engine: delete: save index: %w", err))
	}

	e.hdr.LastUpdateTime = e.clock.NowSeconds()

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		return fmt.Errorf("engine: delete: save header after commit: %w", err)
	}

	return nil
}
