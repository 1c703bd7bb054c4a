package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/tlvfram/tlvfram/crc16"
	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/record"
	"github.com/tlvfram/tlvfram/stream"
	"github.com/tlvfram/tlvfram/txn"
)

// WriteBegin implements spec.md §4.8's begin step: validate, pick a target
// address the same way Write does, write the record header immediately, and
// hand back a Token identifying the in-progress transfer.
func (e *Engine) WriteBegin(tag uint16, totalLen uint32) (stream.Token, error) {
	if err := e.requireInitialised(); err != nil {
		return stream.Token{}, err
	}

	if tag == 0 || totalLen == 0 {
		return stream.Token{}, e.fail(tag, "engine.WriteBegin", fmt.Errorf("%w: tag must be non-zero and totalLen non-zero", ErrInvalidParam))
	}

	m, err := e.metaFor(tag)
	if err != nil {
		return stream.Token{}, e.fail(tag, "engine.WriteBegin", err)
	}

	if totalLen > uint32(m.MaxLength) {
		return stream.Token{}, e.fail(tag, "engine.WriteBegin", fmt.Errorf("%w: %d bytes exceeds max length %d for tag 0x%04X", ErrInvalidParam, totalLen, m.MaxLength, tag))
	}

	h, token, err := e.pool.Begin(stream.Writing)
	if err != nil {
		return stream.Token{}, e.fail(tag, "engine.WriteBegin", classify(err))
	}

	if err := e.writeBeginLocked(h, tag, m, totalLen); err != nil {
		e.pool.Release(h)

		return stream.Token{}, e.fail(tag, "engine.WriteBegin", classify(err))
	}

	return token, nil
}

func (e *Engine) writeBeginLocked(h *stream.Handle, tag uint16, m meta.Entry, totalLen uint32) error {
	snap := txn.Take(&e.hdr)

	newFrameSize := record.FrameSize(int(totalLen))

	slot, found := e.idx.Find(tag)

	var (
		targetAddr  uint32
		displaced   stream.Displaced
		oldHeader   record.Header
		haveOldHdr  bool
	)

	if found {
		entry := e.idx.Entries[slot]

		oh, err := record.ReadHeader(e.port, entry.Addr)
		if err != nil {
			return fmt.Errorf("engine: stream write begin: read old frame header: %w", err)
		}

		oldFrame := record.FrameSize(int(oh.PayloadLen))

		if newFrameSize <= oldFrame {
			targetAddr = entry.Addr
			oldHeader, haveOldHdr = oh, true
			e.hdr.UsedBytes = e.hdr.UsedBytes - oldFrame + newFrameSize
		} else {
			if _, hasFree := e.idx.FindFreeSlot(); !hasFree {
				return ErrNoIndexSpace
			}

			addr, ok := e.alloc.Alloc(newFrameSize)
			if !ok {
				return ErrNoMemorySpace
			}

			targetAddr = addr
			e.hdr.NextFreeAddr = e.alloc.Next()
			e.hdr.FreeBytes -= newFrameSize
			e.hdr.UsedBytes += newFrameSize
			displaced = stream.Displaced{Present: true, Slot: slot, FrameSize: oldFrame}
		}
	} else {
		if _, hasFree := e.idx.FindFreeSlot(); !hasFree {
			return ErrNoIndexSpace
		}

		addr, ok := e.alloc.Alloc(newFrameSize)
		if !ok {
			return ErrNoMemorySpace
		}

		targetAddr = addr
		e.hdr.NextFreeAddr = e.alloc.Next()
		e.hdr.FreeBytes -= newFrameSize
		e.hdr.UsedBytes += newFrameSize
	}

	writeCounter := record.NextWriteCounter(oldHeader, haveOldHdr, tag)

	recHeader := record.Header{
		Tag:          tag,
		PayloadLen:   uint16(totalLen),
		Version:      m.Version,
		Flags:        record.FlagNone,
		Timestamp:    e.clock.NowSeconds(),
		WriteCounter: writeCounter,
	}

	headerBuf := recHeader.EncodeHeader()

	if err := e.port.WriteAt(targetAddr, headerBuf); err != nil {
		snap.Restore(&e.hdr)
		e.alloc.SetNext(e.hdr.NextFreeAddr)

		if saveErr := e.hdr.Save(e.port, e.layout.HeaderAddr); saveErr != nil {
			return fmt.Errorf("%w (while rolling back after: %v)", saveErr, err)
		}

		return fmt.Errorf("engine: stream write begin: write header at %d: %w", targetAddr, err)
	}

	h.Tag = tag
	h.Addr = targetAddr
	h.Offset = record.HeaderSize
	h.Total = totalLen
	h.Processed = 0
	h.CRC = crc16.New().Update(headerBuf).Final()
	h.Displaced = displaced
	h.NewFrameSize = newFrameSize
	h.Snapshot = snap

	return nil
}

// WriteChunk implements spec.md §4.8's chunk step.
func (e *Engine) WriteChunk(token stream.Token, data []byte) error {
	h, err := e.pool.Lookup(token)
	if err != nil {
		return e.fail(0, "engine.WriteChunk", classify(err))
	}

	if h.State() != stream.Writing {
		return e.fail(h.Tag, "engine.WriteChunk", ErrInvalidState)
	}

	if h.Processed+uint32(len(data)) > h.Total {
		return e.fail(h.Tag, "engine.WriteChunk", fmt.Errorf("%w: chunk would exceed declared total length", ErrInvalidParam))
	}

	if err := e.port.WriteAt(h.Addr+h.Offset, data); err != nil {
		return e.fail(h.Tag, "engine.WriteChunk", classify(fmt.Errorf("engine: stream write chunk: %w", err)))
	}

	h.CRC = crc16.Resume(h.CRC).Update(data).Final()
	h.Offset += uint32(len(data))
	h.Processed += uint32(len(data))

	return nil
}

// WriteEnd implements spec.md §4.8's end step: finalize and write the
// trailing CRC, then run the same commit sequence as Write (steps 5-8).
func (e *Engine) WriteEnd(token stream.Token) error {
	h, err := e.pool.Lookup(token)
	if err != nil {
		return e.fail(0, "engine.WriteEnd", classify(err))
	}

	if h.State() != stream.Writing {
		return e.fail(h.Tag, "engine.WriteEnd", ErrInvalidState)
	}

	if h.Processed != h.Total {
		return e.fail(h.Tag, "engine.WriteEnd", fmt.Errorf("%w: processed %d bytes, declared %d", ErrInvalidParam, h.Processed, h.Total))
	}

	tag := h.Tag
	err = e.writeEndLocked(h)
	e.pool.Release(h)

	return e.fail(tag, "engine.WriteEnd", classify(err))
}

func (e *Engine) writeEndLocked(h *stream.Handle) error {
	crcBuf := make([]byte, record.CRCSize)
	binary.LittleEndian.PutUint16(crcBuf, h.CRC)

	if err := e.port.WriteAt(h.Addr+h.Offset, crcBuf); err != nil {
		return e.rollbackWrite(h.Snapshot, e.idx, fmt.Errorf("engine: stream write end: write CRC at %d: %w", h.Addr+h.Offset, err))
	}

	oldIdx := e.idx

	m, err := e.metaFor(h.Tag)
	if err != nil {
		return e.rollbackWrite(h.Snapshot, oldIdx, err)
	}

	if h.Displaced.Present {
		e.idx.MarkDirty(h.Displaced.Slot)
		e.hdr.UsedBytes -= h.Displaced.FrameSize
		e.hdr.FragmentCount++
		e.hdr.FragmentWaste += h.Displaced.FrameSize

		if _, ok := e.idx.Add(h.Tag, h.Addr, m.Version); !ok {
			return e.rollbackWrite(h.Snapshot, oldIdx, fmt.Errorf("engine: stream write end: %w", ErrNoIndexSpace))
		}
	} else if _, found := e.idx.Find(h.Tag); found {
		if !e.idx.Update(h.Tag, h.Addr, m.Version) {
			return e.rollbackWrite(h.Snapshot, oldIdx, fmt.Errorf("engine: stream write end: %w", ErrCorrupted))
		}
	} else {
		if _, ok := e.idx.Add(h.Tag, h.Addr, m.Version); !ok {
			return e.rollbackWrite(h.Snapshot, oldIdx, fmt.Errorf("engine: stream write end: %w", ErrNoIndexSpace))
		}
	}

	e.hdr.TagCount = uint16(e.idx.CountValid())

	if err := e.idx.Save(e.port, e.layout.IndexAddr); err != nil {
		return e.rollbackWrite(h.Snapshot, oldIdx, fmt.Errorf("engine: stream write end: save index: %w", err))
	}

	e.hdr.TotalWrites++
	e.hdr.LastUpdateTime = e.clock.NowSeconds()

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		return fmt.Errorf("engine: stream write end: save header after commit: %w", err)
	}

	e.maybeAutoDefragment()

	return nil
}

// WriteAbort implements spec.md §4.8's abort step: roll back the snapshot
// taken at begin, save Header, count the reserved frame as waste, and
// release the handle. Idempotent on an already-invalid token.
func (e *Engine) WriteAbort(token stream.Token) error {
	h, err := e.pool.Lookup(token)
	if err != nil {
		return nil
	}

	tag := h.Tag

	h.Snapshot.Restore(&e.hdr)
	e.alloc.SetNext(e.hdr.NextFreeAddr)

	e.hdr.FragmentCount++
	e.hdr.FragmentWaste += h.NewFrameSize

	err = e.hdr.Save(e.port, e.layout.HeaderAddr)

	e.pool.Release(h)

	if err != nil {
		return e.fail(tag, "engine.WriteAbort", classify(fmt.Errorf("engine: stream write abort: save header: %w", err)))
	}

	return nil
}
