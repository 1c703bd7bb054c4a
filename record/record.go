// Package record implements the on-medium record frame: a 14-byte header,
// the variable-length payload, and a trailing 2-byte CRC-16 covering
// header+payload (spec.md §3, §4.4).
package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tlvfram/tlvfram/crc16"
	"github.com/tlvfram/tlvfram/port"
)

// HeaderSize is the fixed 14-byte record header.
const HeaderSize = 14

// CRCSize is the trailing CRC footer.
const CRCSize = 2

// Field offsets within the 14-byte record header.
const (
	offTag          = 0x00 // uint16
	offPayloadLen   = 0x02 // uint16
	offVersion      = 0x04 // uint8
	offFlags        = 0x05 // uint8
	offTimestamp    = 0x06 // uint32
	offWriteCounter = 0x0A // uint32
)

// Record header flags. The core engine does not interpret any bits today;
// the field exists for forward compatibility with index.Flag* policies.
const (
	FlagNone uint8 = 0
)

// ErrCRCFailed is returned by Read when the stored CRC doesn't match the
// recomputed one over header+payload.
var ErrCRCFailed = errors.New("record: CRC mismatch")

// ErrNoBufferMemory is returned by Read when the caller's buffer is smaller
// than the stored payload length.
var ErrNoBufferMemory = errors.New("record: caller buffer too small")

// ErrTagMismatch is returned when a record's header tag does not match the
// tag the caller expected to find at that address (data corruption).
var ErrTagMismatch = errors.New("record: tag mismatch at address")

// Header is the decoded 14-byte record header.
type Header struct {
	Tag           uint16
	PayloadLen    uint16
	Version       uint8
	Flags         uint8
	Timestamp     uint32
	WriteCounter  uint32
}

// FrameSize returns the total on-medium size of a frame carrying a payload
// of payloadLen bytes.
func FrameSize(payloadLen int) uint32 {
	return uint32(HeaderSize + payloadLen + CRCSize)
}

// EncodeHeader serializes h into a HeaderSize-byte buffer.
func (h Header) EncodeHeader() []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint16(buf[offTag:], h.Tag)
	binary.LittleEndian.PutUint16(buf[offPayloadLen:], h.PayloadLen)
	buf[offVersion] = h.Version
	buf[offFlags] = h.Flags
	binary.LittleEndian.PutUint32(buf[offTimestamp:], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[offWriteCounter:], h.WriteCounter)

	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header.
func DecodeHeader(buf []byte) Header {
	return Header{
		Tag:          binary.LittleEndian.Uint16(buf[offTag:]),
		PayloadLen:   binary.LittleEndian.Uint16(buf[offPayloadLen:]),
		Version:      buf[offVersion],
		Flags:        buf[offFlags],
		Timestamp:    binary.LittleEndian.Uint32(buf[offTimestamp:]),
		WriteCounter: binary.LittleEndian.Uint32(buf[offWriteCounter:]),
	}
}

// ReadHeader reads just the HeaderSize bytes at addr, for callers (core
// write/delete, defrag) that only need frame size or write-counter
// chaining without paying for the full payload read.
func ReadHeader(p port.Port, addr uint32) (Header, error) {
	buf := make([]byte, HeaderSize)

	if err := p.ReadAt(addr, buf); err != nil {
		return Header{}, fmt.Errorf("record: read header at %d: %w", addr, err)
	}

	return DecodeHeader(buf), nil
}

// Write builds a frame for (tag, data) with the given schema version and
// writeCounter and performs the mandatory three ordered writes — header,
// payload, CRC — required by spec.md §4.4 and §5 ("header -> payload -> CRC
// -> index save"). A partial failure here is tolerated by the engine: the
// commit point is the index save, not these writes.
func Write(p port.Port, addr uint32, tag uint16, data []byte, version uint8, writeCounter uint32, timestamp uint32) error {
	h := Header{
		Tag:          tag,
		PayloadLen:   uint16(len(data)),
		Version:      version,
		Flags:        FlagNone,
		Timestamp:    timestamp,
		WriteCounter: writeCounter,
	}

	headerBuf := h.EncodeHeader()

	sum := crc16.New()
	sum.Update(headerBuf)
	sum.Update(data)

	crcBuf := make([]byte, CRCSize)
	binary.LittleEndian.PutUint16(crcBuf, sum.Final())

	if err := p.WriteAt(addr, headerBuf); err != nil {
		return fmt.Errorf("record: write header at %d: %w", addr, err)
	}

	if err := p.WriteAt(addr+HeaderSize, data); err != nil {
		return fmt.Errorf("record: write payload at %d: %w", addr+HeaderSize, err)
	}

	if err := p.WriteAt(addr+HeaderSize+uint32(len(data)), crcBuf); err != nil {
		return fmt.Errorf("record: write CRC at %d: %w", addr+HeaderSize+uint32(len(data)), err)
	}

	return nil
}

// Read reads the frame at addr into buf, returning the payload length. It
// fails with ErrNoBufferMemory if the stored payload doesn't fit buf, and
// ErrCRCFailed if the recomputed CRC doesn't match.
func Read(p port.Port, addr uint32, buf []byte) (n int, err error) {
	h, err := ReadHeader(p, addr)
	if err != nil {
		return 0, err
	}

	if int(h.PayloadLen) > len(buf) {
		return int(h.PayloadLen), ErrNoBufferMemory
	}

	payload := buf[:h.PayloadLen]
	if err := p.ReadAt(addr+HeaderSize, payload); err != nil {
		return 0, fmt.Errorf("record: read payload at %d: %w", addr+HeaderSize, err)
	}

	crcBuf := make([]byte, CRCSize)
	if err := p.ReadAt(addr+HeaderSize+uint32(h.PayloadLen), crcBuf); err != nil {
		return 0, fmt.Errorf("record: read CRC at %d: %w", addr+HeaderSize+uint32(h.PayloadLen), err)
	}

	sum := crc16.New()
	sum.Update(h.EncodeHeader())
	sum.Update(payload)

	if binary.LittleEndian.Uint16(crcBuf) != sum.Final() {
		return 0, ErrCRCFailed
	}

	return int(h.PayloadLen), nil
}

// NextWriteCounter computes the write_counter for a new frame at addr: the
// previous frame's counter + 1 if an old frame at addr has a matching tag,
// else 1 (spec.md §4.4). oldHeader, oldPresent describe whatever was
// previously at addr, if anything.
func NextWriteCounter(oldHeader Header, oldPresent bool, tag uint16) uint32 {
	if oldPresent && oldHeader.Tag == tag {
		return oldHeader.WriteCounter + 1
	}

	return 1
}
