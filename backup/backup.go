// Package backup implements whole-region backup/restore: a byte-for-byte
// copy of Header+Index+Data to/from the Backup region, using a fixed-size
// staging buffer so the copy never allocates proportionally to region size
// (spec.md §4.10, §5).
package backup

import (
	"fmt"

	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/port"
)

// StagingBufferSize is the shared staging buffer size used by backup,
// restore, and defragment (spec.md §5: "a single staging buffer of fixed
// size (typically 512 bytes)").
const StagingBufferSize = 512

// Copy streams regionSize bytes from srcAddr to dstAddr using a
// StagingBufferSize-byte buffer, reading and writing in lockstep.
func Copy(p port.Port, srcAddr, dstAddr, regionSize uint32) error {
	staging := make([]byte, StagingBufferSize)

	var off uint32

	for off < regionSize {
		n := StagingBufferSize
		if remaining := regionSize - off; uint32(n) > remaining {
			n = int(remaining)
		}

		chunk := staging[:n]

		if err := p.ReadAt(srcAddr+off, chunk); err != nil {
			return fmt.Errorf("backup: read at %d: %w", srcAddr+off, err)
		}

		if err := p.WriteAt(dstAddr+off, chunk); err != nil {
			return fmt.Errorf("backup: write at %d: %w", dstAddr+off, err)
		}

		off += uint32(n)
	}

	return nil
}

// All copies the whole primary region (Header+Index+Data, regionSize bytes
// starting at primaryAddr) to the backup region at backupAddr. This is the
// spec's "copy the entire Header+Index+Data region to the Backup region as
// a byte stream using a fixed-size staging buffer" (spec.md §4.10). It
// completes fully or leaves the Backup region inconsistent, which its own
// Header CRC will reject on a later restore.
func All(p port.Port, primaryAddr, backupAddr, regionSize uint32) error {
	return Copy(p, primaryAddr, backupAddr, regionSize)
}

// Restore reads the Header at the start of the Backup region, rejects it if
// magic, data-region size, or CRC don't check out, then streams the whole
// Backup region back over the primary region.
func Restore(p port.Port, primaryAddr, backupAddr, regionSize uint32, expectMagic uint32, expectDataSize uint32) error {
	buf := make([]byte, header.Size)

	if err := p.ReadAt(backupAddr, buf); err != nil {
		return fmt.Errorf("backup: read backup header: %w", err)
	}

	if err := header.Verify(buf, expectMagic); err != nil {
		return fmt.Errorf("backup: %w: %w", header.ErrCorrupted, err)
	}

	var h header.SystemHeader

	h.Decode(buf)

	if h.DataRegionSize != 0 && expectDataSize != 0 && h.DataRegionSize != expectDataSize {
		return fmt.Errorf("backup: %w: data region size %d, want %d", header.ErrCorrupted, h.DataRegionSize, expectDataSize)
	}

	return Copy(p, backupAddr, primaryAddr, regionSize)
}
