package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/index"
)

// Layout describes the fixed medium offsets from spec.md §6. The typical
// values shown in the spec are DefaultLayout; a host with a differently
// sized medium builds its own Layout and passes it to New.
type Layout struct {
	HeaderAddr uint32
	IndexAddr  uint32
	DataAddr   uint32
	DataSize   uint32
	BackupAddr uint32
}

// RegionSize is the total byte span of Header+Index+Data, the unit
// backup.All/backup.Restore copy as one stream.
func (l Layout) RegionSize() uint32 {
	return (l.DataAddr + l.DataSize) - l.HeaderAddr
}

// BackupSize is the space reserved for the Backup region: identical to
// RegionSize since it is a byte-for-byte mirror.
func (l Layout) BackupSize() uint32 {
	return l.RegionSize()
}

// Validate checks that the regions are laid out without overlap, in the
// order Header, Index, Data, Backup.
func (l Layout) Validate() error {
	if l.IndexAddr < l.HeaderAddr+header.Size {
		return fmt.Errorf("engine: layout: index region at %d overlaps header (ends at %d)", l.IndexAddr, l.HeaderAddr+header.Size)
	}

	if l.DataAddr < l.IndexAddr+index.Size {
		return fmt.Errorf("engine: layout: data region at %d overlaps index (ends at %d)", l.DataAddr, l.IndexAddr+index.Size)
	}

	if l.BackupAddr < l.DataAddr+l.DataSize {
		return fmt.Errorf("engine: layout: backup region at %d overlaps data (ends at %d)", l.BackupAddr, l.DataAddr+l.DataSize)
	}

	if l.DataSize == 0 {
		return fmt.Errorf("engine: layout: data region size must be non-zero")
	}

	return nil
}

// DefaultLayout mirrors the typical offsets in spec.md §6's medium layout
// table. The Backup region at 0x1F000 is a full RegionSize (0x1F000-byte)
// mirror, so the whole image spans 0x3E000 bytes.
var DefaultLayout = Layout{
	HeaderAddr: 0x0000,
	IndexAddr:  0x0200,
	DataAddr:   0x1000,
	DataSize:   0x1F000 - 0x1000,
	BackupAddr: 0x1F000,
}
