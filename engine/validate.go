package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/index"
	"github.com/tlvfram/tlvfram/record"
)

// VerifyAll checks the universal invariants in spec.md §8 against the
// on-medium state: Header and Index CRCs, tag_count vs. valid-entry count,
// used_space accounting, the free/next-free identity, and per-entry
// tag-match plus record CRC. It is read-only.
func (e *Engine) VerifyAll() error {
	if err := e.requireInitialised(); err != nil {
		return err
	}

	if err := e.verifyAllLocked(); err != nil {
		return e.fail(0, "engine.VerifyAll", classify(err))
	}

	return nil
}

func (e *Engine) verifyAllLocked() error {
	hdrBuf := make([]byte, header.Size)
	if err := e.port.ReadAt(e.layout.HeaderAddr, hdrBuf); err != nil {
		return fmt.Errorf("engine: verify: read header: %w", err)
	}

	if err := header.Verify(hdrBuf, 0); err != nil {
		return fmt.Errorf("engine: verify: header: %w", err)
	}

	idxBuf := make([]byte, index.Size)
	if err := e.port.ReadAt(e.layout.IndexAddr, idxBuf); err != nil {
		return fmt.Errorf("engine: verify: read index: %w", err)
	}

	if err := index.Verify(idxBuf); err != nil {
		return fmt.Errorf("engine: verify: index: %w", err)
	}

	validCount := e.idx.CountValid()
	if int(e.hdr.TagCount) != validCount {
		return fmt.Errorf("%w: header.tag_count=%d, valid entries=%d", ErrCorrupted, e.hdr.TagCount, validCount)
	}

	seenAddr := make(map[uint32]bool, validCount)

	var usedSum uint32

	for _, entry := range e.idx.Entries {
		if !entry.Valid() {
			continue
		}

		if seenAddr[entry.Addr] {
			return fmt.Errorf("%w: two VALID entries share address %d", ErrCorrupted, entry.Addr)
		}

		seenAddr[entry.Addr] = true

		rh, err := record.ReadHeader(e.port, entry.Addr)
		if err != nil {
			return fmt.Errorf("engine: verify: read record header at %d: %w", entry.Addr, err)
		}

		if rh.Tag != entry.Tag {
			return fmt.Errorf("%w: record at %d has tag 0x%04X, index says 0x%04X", ErrCorrupted, entry.Addr, rh.Tag, entry.Tag)
		}

		usedSum += record.FrameSize(int(rh.PayloadLen))

		buf := make([]byte, rh.PayloadLen)
		if _, err := record.Read(e.port, entry.Addr, buf); err != nil {
			return fmt.Errorf("engine: verify: record at %d (tag 0x%04X): %w", entry.Addr, entry.Tag, err)
		}
	}

	if usedSum != e.hdr.UsedBytes {
		return fmt.Errorf("%w: sum of valid frame sizes=%d, header.used_space=%d", ErrCorrupted, usedSum, e.hdr.UsedBytes)
	}

	if e.hdr.FreeBytes+(e.hdr.NextFreeAddr-e.hdr.DataRegionStart) != e.hdr.DataRegionSize {
		return fmt.Errorf("%w: free_space + (next_free_addr - data_start) != data_region_size", ErrCorrupted)
	}

	return nil
}
