// Package header implements the fixed 256-byte SystemHeader superblock:
// load/save/verify, and the accounting fields every mutating core operation
// reads and rewrites. The header is the single source of truth for
// free/used space; the index never duplicates these values (spec.md §3).
package header

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tlvfram/tlvfram/crc16"
	"github.com/tlvfram/tlvfram/port"
)

// Size is the fixed on-medium size of a SystemHeader, in bytes.
const Size = 256

// DefaultMagic is the magic value a fresh format() call stamps, unless the
// caller overrides it.
const DefaultMagic = 0x54464C56 // "TFLV" as a big-endian-read ASCII mnemonic

// FormatVersion is this build's format version: major.minor packed as
// major<<8|minor. The major byte must match exactly on load; the minor byte
// on disk may be <= the firmware's expected minor (spec.md §4.1).
const FormatVersion = uint16(1)<<8 | 0

// Field byte offsets within the 256-byte header, CRC trailing.
const (
	offMagic         = 0x00 // uint32
	offFormatVersion = 0x04 // uint16
	offTagCount      = 0x06 // uint16
	offDataStart     = 0x08 // uint32
	offDataSize      = 0x0C // uint32
	offNextFree      = 0x10 // uint32
	offTotalWrites   = 0x14 // uint32
	offLastUpdate    = 0x18 // uint32
	offFreeBytes     = 0x1C // uint32
	offUsedBytes     = 0x20 // uint32
	offFragCount     = 0x24 // uint32
	offFragWaste     = 0x28 // uint32
	reservedStart    = 0x2C
	offCRC           = Size - 2 // uint16, trailing
)

// Errors returned by Verify, wrapped with additional context by Load.
var (
	ErrCorrupted = errors.New("header: magic mismatch")
	ErrVersion   = errors.New("header: incompatible format version")
	ErrCRCFailed = errors.New("header: CRC mismatch")
)

// SystemHeader is the in-memory mirror of the 256-byte on-medium superblock.
type SystemHeader struct {
	Magic           uint32
	FormatVersion   uint16
	TagCount        uint16
	DataRegionStart uint32
	DataRegionSize  uint32
	NextFreeAddr    uint32
	TotalWrites     uint32
	LastUpdateTime  uint32
	FreeBytes       uint32
	UsedBytes       uint32
	FragmentCount   uint32
	FragmentWaste   uint32
}

// Init zeroes h then sets magic, format version, and the data region
// geometry, leaving accounting fields at zero. Callers must Save afterward.
func (h *SystemHeader) Init(magic uint32, dataStart, dataSize uint32) {
	if magic == 0 {
		magic = DefaultMagic
	}

	*h = SystemHeader{
		Magic:           magic,
		FormatVersion:   FormatVersion,
		DataRegionStart: dataStart,
		DataRegionSize:  dataSize,
		NextFreeAddr:    dataStart,
		FreeBytes:       dataSize,
	}
}

// Encode serializes h into a Size-byte buffer with a freshly computed CRC.
func (h *SystemHeader) Encode() []byte {
	buf := make([]byte, Size)

	binary.LittleEndian.PutUint32(buf[offMagic:], h.Magic)
	binary.LittleEndian.PutUint16(buf[offFormatVersion:], h.FormatVersion)
	binary.LittleEndian.PutUint16(buf[offTagCount:], h.TagCount)
	binary.LittleEndian.PutUint32(buf[offDataStart:], h.DataRegionStart)
	binary.LittleEndian.PutUint32(buf[offDataSize:], h.DataRegionSize)
	binary.LittleEndian.PutUint32(buf[offNextFree:], h.NextFreeAddr)
	binary.LittleEndian.PutUint32(buf[offTotalWrites:], h.TotalWrites)
	binary.LittleEndian.PutUint32(buf[offLastUpdate:], h.LastUpdateTime)
	binary.LittleEndian.PutUint32(buf[offFreeBytes:], h.FreeBytes)
	binary.LittleEndian.PutUint32(buf[offUsedBytes:], h.UsedBytes)
	binary.LittleEndian.PutUint32(buf[offFragCount:], h.FragmentCount)
	binary.LittleEndian.PutUint32(buf[offFragWaste:], h.FragmentWaste)
	// reservedStart..offCRC stays zero.

	crc := crc16.Checksum(buf[:offCRC])
	binary.LittleEndian.PutUint16(buf[offCRC:], crc)

	return buf
}

// Decode parses a Size-byte buffer into h without validating it; callers
// should call Verify separately (mirrors index.Table.Load's split between
// parsing and CRC validation).
func (h *SystemHeader) Decode(buf []byte) {
	h.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	h.FormatVersion = binary.LittleEndian.Uint16(buf[offFormatVersion:])
	h.TagCount = binary.LittleEndian.Uint16(buf[offTagCount:])
	h.DataRegionStart = binary.LittleEndian.Uint32(buf[offDataStart:])
	h.DataRegionSize = binary.LittleEndian.Uint32(buf[offDataSize:])
	h.NextFreeAddr = binary.LittleEndian.Uint32(buf[offNextFree:])
	h.TotalWrites = binary.LittleEndian.Uint32(buf[offTotalWrites:])
	h.LastUpdateTime = binary.LittleEndian.Uint32(buf[offLastUpdate:])
	h.FreeBytes = binary.LittleEndian.Uint32(buf[offFreeBytes:])
	h.UsedBytes = binary.LittleEndian.Uint32(buf[offUsedBytes:])
	h.FragmentCount = binary.LittleEndian.Uint32(buf[offFragCount:])
	h.FragmentWaste = binary.LittleEndian.Uint32(buf[offFragWaste:])
}

// Verify checks buf's CRC and version/magic compatibility without mutating
// h. expectMagic of 0 means "accept whatever magic is stored" (used by
// restore, which trusts the backup's own magic).
func Verify(buf []byte, expectMagic uint32) error {
	if len(buf) != Size {
		return fmt.Errorf("header: buffer is %d bytes, want %d", len(buf), Size)
	}

	storedCRC := binary.LittleEndian.Uint16(buf[offCRC:])
	wantCRC := crc16.Checksum(buf[:offCRC])

	if storedCRC != wantCRC {
		return ErrCRCFailed
	}

	magic := binary.LittleEndian.Uint32(buf[offMagic:])
	if expectMagic != 0 && magic != expectMagic {
		return ErrCorrupted
	}

	version := binary.LittleEndian.Uint16(buf[offFormatVersion:])
	if version>>8 != FormatVersion>>8 {
		return ErrVersion
	}

	if version&0xFF > FormatVersion&0xFF {
		return ErrVersion
	}

	return nil
}

// Load reads Size bytes from addr via p, verifies them, and on success
// populates h.
func (h *SystemHeader) Load(p port.Port, addr uint32, expectMagic uint32) error {
	buf := make([]byte, Size)

	if err := p.ReadAt(addr, buf); err != nil {
		return fmt.Errorf("header: load: %w", err)
	}

	if err := Verify(buf, expectMagic); err != nil {
		return err
	}

	h.Decode(buf)

	return nil
}

// Save recomputes the CRC and writes h to addr via p.
func (h *SystemHeader) Save(p port.Port, addr uint32) error {
	if err := p.WriteAt(addr, h.Encode()); err != nil {
		return fmt.Errorf("header: save: %w", err)
	}

	return nil
}
