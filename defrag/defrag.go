// Package defrag implements the in-place compaction pass: sort the index by
// data address, walk it in order packing frames toward the start of the
// data region, and reset the header's fragmentation accounting (spec.md
// §4.11).
package defrag

import (
	"fmt"
	"sort"

	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/index"
	"github.com/tlvfram/tlvfram/port"
	"github.com/tlvfram/tlvfram/record"
)

// StagingBufferSize matches backup.StagingBufferSize; the two packages
// share the same budget (one staging buffer, never used concurrently,
// spec.md §5) but are kept decoupled to avoid an import cycle between
// backup and defrag.
const StagingBufferSize = 512

// Result reports what Run did, for callers that want to log or assert on
// the outcome (e.g. engine.Statistics refresh, S6 in spec.md §8).
type Result struct {
	MovedFrames int
	BytesMoved  uint32
}

// Run compacts idx and the data region addressed through p, then updates h
// to reflect the new layout. It does not itself call Index.Save/Header.Save
// or trigger a backup — package engine sequences those per spec.md §4.11
// step 6, since only engine knows the index/header/backup addresses.
func Run(p port.Port, h *header.SystemHeader, idx *index.Table) (Result, error) {
	valid := idx.CountValid()

	if valid == 0 {
		h.TagCount = 0
		h.NextFreeAddr = h.DataRegionStart
		h.UsedBytes = 0
		h.FreeBytes = h.DataRegionSize
		h.FragmentCount = 0
		h.FragmentWaste = 0
		idx.Init()

		return Result{}, nil
	}

	slots := compactAndSort(idx)

	writePos := h.DataRegionStart

	staging := make([]byte, StagingBufferSize)

	var bytesMoved uint32

	moved := 0

	for _, slot := range slots {
		entry := idx.Entries[slot]

		hdr, err := record.ReadHeader(p, entry.Addr)
		if err != nil {
			return Result{}, fmt.Errorf("defrag: read header at %d: %w", entry.Addr, err)
		}

		frameSize := record.FrameSize(int(hdr.PayloadLen))

		if entry.Addr != writePos {
			if err := moveFrame(p, staging, entry.Addr, writePos, frameSize); err != nil {
				return Result{}, err
			}

			idx.Entries[slot].Addr = writePos
			moved++
		}

		idx.Entries[slot].Flags &^= index.FlagDirty

		writePos += frameSize
		bytesMoved += frameSize
	}

	h.TagCount = uint16(valid)
	h.NextFreeAddr = writePos
	h.UsedBytes = bytesMoved
	h.FreeBytes = h.DataRegionSize - (writePos - h.DataRegionStart)
	h.FragmentCount = 0
	h.FragmentWaste = 0

	return Result{MovedFrames: moved, BytesMoved: bytesMoved}, nil
}

// compactAndSort moves every VALID entry to the front of idx, zeroes the
// trailing slots, sorts the valid prefix by ascending data address using
// sort.SliceStable (the input is near-sorted in steady state, spec.md
// §4.11 step 3), and returns the (now contiguous, sorted) slot indices.
func compactAndSort(idx *index.Table) []int {
	var validEntries []index.Entry

	for _, e := range idx.Entries {
		if e.Valid() {
			validEntries = append(validEntries, e)
		}
	}

	sort.SliceStable(validEntries, func(i, j int) bool {
		return validEntries[i].Addr < validEntries[j].Addr
	})

	// Rewrite the table compactly: valid entries first, in address order.
	*idx = index.Table{}

	slots := make([]int, len(validEntries))

	for i, e := range validEntries {
		idx.Entries[i] = e
		slots[i] = i
	}

	return slots
}

// moveFrame copies a frameSize-byte frame from src to dst through a shared
// staging buffer, chunking if the frame is larger than the buffer.
func moveFrame(p port.Port, staging []byte, src, dst, frameSize uint32) error {
	var off uint32

	for off < frameSize {
		n := uint32(len(staging))
		if remaining := frameSize - off; n > remaining {
			n = remaining
		}

		chunk := staging[:n]

		if err := p.ReadAt(src+off, chunk); err != nil {
			return fmt.Errorf("defrag: read frame at %d: %w", src+off, err)
		}

		if err := p.WriteAt(dst+off, chunk); err != nil {
			return fmt.Errorf("defrag: write frame at %d: %w", dst+off, err)
		}

		off += n
	}

	return nil
}
