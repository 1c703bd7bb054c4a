// Package mmapport implements port.Port over a memory-mapped file, using
// github.com/edsrzf/mmap-go. It is meant for a host that maps a real FRAM
// window (or an image of one) directly into its address space instead of
// going through read(2)/write(2) syscalls per access.
package mmapport

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/tlvfram/tlvfram/port"
)

// Mapped is a port.Port backed by an mmap.MMap of a fixed-size file.
type Mapped struct {
	f   *os.File
	m   mmap.MMap
	len int
}

// Open maps size bytes of path (creating/truncating it to size if needed)
// read-write.
func Open(path string, size int) (*Mapped, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("mmapport: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("mmapport: stat %s: %w", path, err)
	}

	if info.Size() < int64(size) {
		if truncErr := f.Truncate(int64(size)); truncErr != nil {
			_ = f.Close()

			return nil, fmt.Errorf("mmapport: truncate %s: %w", path, truncErr)
		}
	}

	m, err := mmap.MapRegion(f, size, mmap.RDWR, 0, 0)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("mmapport: map %s: %w", path, err)
	}

	return &Mapped{f: f, m: m, len: size}, nil
}

// Init is a no-op; Open already established the mapping.
func (mp *Mapped) Init() error { return nil }

// Close flushes and tears down the mapping.
func (mp *Mapped) Close() error {
	if err := mp.m.Flush(); err != nil {
		_ = mp.m.Unmap()
		_ = mp.f.Close()

		return fmt.Errorf("mmapport: flush: %w", err)
	}

	if err := mp.m.Unmap(); err != nil {
		_ = mp.f.Close()

		return fmt.Errorf("mmapport: unmap: %w", err)
	}

	return mp.f.Close()
}

// ReadAt implements port.Port by copying directly out of the mapping.
func (mp *Mapped) ReadAt(addr uint32, buf []byte) error {
	end := int(addr) + len(buf)
	if addr > uint32(mp.len) || end > mp.len {
		return fmt.Errorf("mmapport read %d+%d: %w", addr, len(buf), port.ErrOutOfRange)
	}

	copy(buf, mp.m[int(addr):end])

	return nil
}

// WriteAt implements port.Port by copying directly into the mapping.
// The write is not guaranteed durable until Flush (called by Close) or an
// explicit Sync.
func (mp *Mapped) WriteAt(addr uint32, buf []byte) error {
	end := int(addr) + len(buf)
	if addr > uint32(mp.len) || end > mp.len {
		return fmt.Errorf("mmapport write %d+%d: %w", addr, len(buf), port.ErrOutOfRange)
	}

	copy(mp.m[int(addr):end], buf)

	return nil
}

// Sync flushes dirty pages to the backing file without tearing down the
// mapping, for a host that wants an explicit durability point.
func (mp *Mapped) Sync() error {
	if err := mp.m.Flush(); err != nil {
		return fmt.Errorf("mmapport: sync: %w", err)
	}

	return nil
}

var _ port.Port = (*Mapped)(nil)
