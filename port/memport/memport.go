// Package memport is an in-memory port.Port, used by tests and by hosts that
// keep the whole medium in RAM (e.g. a RAM-backed FRAM emulator).
package memport

import (
	"fmt"

	"github.com/tlvfram/tlvfram/port"
)

// Mem is a fixed-size in-memory backing store.
type Mem struct {
	buf []byte
}

// New allocates a Mem of the given size, zero-filled.
func New(size int) *Mem {
	return &Mem{buf: make([]byte, size)}
}

// NewFromBytes wraps an existing slice without copying. Callers must not
// mutate buf outside the returned Mem afterward.
func NewFromBytes(buf []byte) *Mem {
	return &Mem{buf: buf}
}

// Init is a no-op; the backing slice is already allocated.
func (m *Mem) Init() error { return nil }

// Bytes returns the whole backing slice. Used by tests that want to snapshot
// or corrupt the medium directly.
func (m *Mem) Bytes() []byte { return m.buf }

// Size returns the total addressable size.
func (m *Mem) Size() int { return len(m.buf) }

// ReadAt implements port.Port.
func (m *Mem) ReadAt(addr uint32, buf []byte) error {
	end := int(addr) + len(buf)
	if addr > uint32(len(m.buf)) || end > len(m.buf) {
		return fmt.Errorf("memport read %d+%d: %w", addr, len(buf), port.ErrOutOfRange)
	}

	copy(buf, m.buf[int(addr):end])

	return nil
}

// WriteAt implements port.Port.
func (m *Mem) WriteAt(addr uint32, buf []byte) error {
	end := int(addr) + len(buf)
	if addr > uint32(len(m.buf)) || end > len(m.buf) {
		return fmt.Errorf("memport write %d+%d: %w", addr, len(buf), port.ErrOutOfRange)
	}

	copy(m.buf[int(addr):end], buf)

	return nil
}

var _ port.Port = (*Mem)(nil)
