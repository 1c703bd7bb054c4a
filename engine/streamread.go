package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/tlvfram/tlvfram/crc16"
	"github.com/tlvfram/tlvfram/record"
	"github.com/tlvfram/tlvfram/stream"
)

// ReadBegin implements spec.md §4.9's begin step: look up the entry, read
// its record header, and hand back a Token plus the total declared length.
func (e *Engine) ReadBegin(tag uint16) (stream.Token, uint32, error) {
	if err := e.requireInitialised(); err != nil {
		return stream.Token{}, 0, err
	}

	slot, found := e.idx.Find(tag)
	if !found {
		return stream.Token{}, 0, e.fail(tag, "engine.ReadBegin", fmt.Errorf("%w: tag 0x%04X", ErrNotFound, tag))
	}

	entry := e.idx.Entries[slot]

	rh, err := record.ReadHeader(e.port, entry.Addr)
	if err != nil {
		return stream.Token{}, 0, e.fail(tag, "engine.ReadBegin", classify(err))
	}

	if rh.Tag != tag {
		return stream.Token{}, 0, e.fail(tag, "engine.ReadBegin", fmt.Errorf("%w: record at %d has tag 0x%04X, index says 0x%04X", ErrCorrupted, entry.Addr, rh.Tag, tag))
	}

	h, token, err := e.pool.Begin(stream.Reading)
	if err != nil {
		return stream.Token{}, 0, e.fail(tag, "engine.ReadBegin", classify(err))
	}

	headerBuf := rh.EncodeHeader()

	h.Tag = tag
	h.Addr = entry.Addr
	h.Offset = record.HeaderSize
	h.Total = uint32(rh.PayloadLen)
	h.Processed = 0
	h.CRC = crc16.New().Update(headerBuf).Final()

	return token, h.Total, nil
}

// ReadChunk implements spec.md §4.9's chunk step: reads min(len(buf),
// remaining) bytes and returns how many it actually read.
func (e *Engine) ReadChunk(token stream.Token, buf []byte) (int, error) {
	h, err := e.pool.Lookup(token)
	if err != nil {
		return 0, e.fail(0, "engine.ReadChunk", classify(err))
	}

	if h.State() != stream.Reading {
		return 0, e.fail(h.Tag, "engine.ReadChunk", ErrInvalidState)
	}

	remaining := h.Total - h.Processed

	n := uint32(len(buf))
	if n > remaining {
		n = remaining
	}

	chunk := buf[:n]

	if err := e.port.ReadAt(h.Addr+h.Offset, chunk); err != nil {
		return 0, e.fail(h.Tag, "engine.ReadChunk", classify(fmt.Errorf("engine: stream read chunk: %w", err)))
	}

	h.CRC = crc16.Resume(h.CRC).Update(chunk).Final()
	h.Offset += n
	h.Processed += n

	return int(n), nil
}

// ReadEnd implements spec.md §4.9's end step: verify processed == total,
// compare the trailing CRC, and release the handle.
func (e *Engine) ReadEnd(token stream.Token) error {
	h, err := e.pool.Lookup(token)
	if err != nil {
		return e.fail(0, "engine.ReadEnd", classify(err))
	}

	tag := h.Tag

	if h.State() != stream.Reading {
		e.pool.Release(h)

		return e.fail(tag, "engine.ReadEnd", ErrInvalidState)
	}

	if h.Processed != h.Total {
		e.pool.Release(h)

		return e.fail(tag, "engine.ReadEnd", fmt.Errorf("%w: processed %d bytes, declared %d", ErrInvalidParam, h.Processed, h.Total))
	}

	crcBuf := make([]byte, record.CRCSize)

	readErr := e.port.ReadAt(h.Addr+h.Offset, crcBuf)
	crc := h.CRC

	e.pool.Release(h)

	if readErr != nil {
		return e.fail(tag, "engine.ReadEnd", classify(fmt.Errorf("engine: stream read end: read CRC: %w", readErr)))
	}

	if binary.LittleEndian.Uint16(crcBuf) != crc {
		return e.fail(tag, "engine.ReadEnd", ErrCRCFailed)
	}

	return nil
}

// ReadAbort implements spec.md §4.9's abort step: unconditional release, no
// mutation. Idempotent on an already-invalid token.
func (e *Engine) ReadAbort(token stream.Token) error {
	h, err := e.pool.Lookup(token)
	if err != nil {
		return nil
	}

	e.pool.Release(h)

	return nil
}
