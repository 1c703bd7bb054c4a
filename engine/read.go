package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/record"
)

// Read implements spec.md §4.6: look up tag, read its record, and apply lazy
// migration if config.Config.LazyMigrateOnRead is set and the stored schema
// version is behind the tag's declared current version.
func (e *Engine) Read(tag uint16, buf []byte) (int, error) {
	if err := e.requireInitialised(); err != nil {
		return 0, err
	}

	if tag == 0 {
		return 0, e.fail(tag, "engine.Read", fmt.Errorf("%w: tag must be non-zero", ErrInvalidParam))
	}

	slot, found := e.idx.Find(tag)
	if !found {
		return 0, e.fail(tag, "engine.Read", fmt.Errorf("%w: tag 0x%04X", ErrNotFound, tag))
	}

	entry := e.idx.Entries[slot]

	n, err := record.Read(e.port, entry.Addr, buf)
	if err != nil {
		return 0, e.fail(tag, "engine.Read", classify(err))
	}

	if !e.cfg.LazyMigrateOnRead {
		return n, nil
	}

	n, err = e.runMigration(tag, slot, buf, n)
	if err != nil {
		return n, e.fail(tag, "engine.Read", classify(err))
	}

	return n, nil
}

// Exists reports whether tag currently has a VALID index entry.
func (e *Engine) Exists(tag uint16) bool {
	if e.requireInitialised() != nil {
		return false
	}

	_, found := e.idx.Find(tag)

	return found
}

// Length returns the current on-medium payload length of tag, without
// reading or migrating the payload itself.
func (e *Engine) Length(tag uint16) (int, error) {
	if err := e.requireInitialised(); err != nil {
		return 0, err
	}

	slot, found := e.idx.Find(tag)
	if !found {
		return 0, e.fail(tag, "engine.Length", fmt.Errorf("%w: tag 0x%04X", ErrNotFound, tag))
	}

	h, err := record.ReadHeader(e.port, e.idx.Entries[slot].Addr)
	if err != nil {
		return 0, e.fail(tag, "engine.Length", classify(err))
	}

	return int(h.PayloadLen), nil
}
