// Package fileport implements port.Port on top of a plain os.File, for hosts
// that keep the medium image as a regular file (development boxes, CI,
// desktop tooling driving a real device image).
package fileport

import (
	"fmt"
	"os"

	"github.com/tlvfram/tlvfram/port"
)

// File is a port.Port backed by an *os.File opened for random access.
// All methods are thin passthroughs to os.File.ReadAt/WriteAt, matching the
// teacher's Real filesystem adapter's "pure passthrough" style.
type File struct {
	path string
	size int64
	f    *os.File
}

// Open opens (creating if necessary) path as a fixed-size medium image of
// size bytes. If the file is smaller than size it is extended and
// zero-filled; if larger, the extra bytes are left untouched but never
// addressed.
func Open(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("fileport: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("fileport: stat %s: %w", path, err)
	}

	if info.Size() < size {
		if truncErr := f.Truncate(size); truncErr != nil {
			_ = f.Close()

			return nil, fmt.Errorf("fileport: truncate %s: %w", path, truncErr)
		}
	}

	return &File{path: path, size: size, f: f}, nil
}

// Init is a no-op; Open already prepared the file.
func (fp *File) Init() error { return nil }

// Close releases the underlying file descriptor.
func (fp *File) Close() error {
	return fp.f.Close()
}

// ReadAt implements port.Port.
func (fp *File) ReadAt(addr uint32, buf []byte) error {
	if int64(addr)+int64(len(buf)) > fp.size {
		return fmt.Errorf("fileport read %d+%d: %w", addr, len(buf), port.ErrOutOfRange)
	}

	_, err := fp.f.ReadAt(buf, int64(addr))
	if err != nil {
		return fmt.Errorf("fileport: read at %d: %w", addr, err)
	}

	return nil
}

// WriteAt implements port.Port.
func (fp *File) WriteAt(addr uint32, buf []byte) error {
	if int64(addr)+int64(len(buf)) > fp.size {
		return fmt.Errorf("fileport write %d+%d: %w", addr, len(buf), port.ErrOutOfRange)
	}

	_, err := fp.f.WriteAt(buf, int64(addr))
	if err != nil {
		return fmt.Errorf("fileport: write at %d: %w", addr, err)
	}

	return nil
}

var _ port.Port = (*File)(nil)
