// Package diag holds the user-facing diagnostics and batch convenience
// wrappers spec.md §1 marks as external collaborators rather than core: raw
// snapshot export/import against a real host file, and a human-readable
// verify report. These are explicitly OUT OF SCOPE of the core engine but
// carried here as the ambient, host-facing layer around it.
package diag

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/tlvfram/tlvfram/engine"
	"github.com/tlvfram/tlvfram/port"
)

// WriteAll writes every (tag, data) pair in records via e.Write, stopping at
// the first failure.
func WriteAll(e *engine.Engine, records map[uint16][]byte) error {
	for tag, data := range records {
		if err := e.Write(tag, data); err != nil {
			return fmt.Errorf("diag: write all: tag 0x%04X: %w", tag, err)
		}
	}

	return nil
}

// ReadAll reads every tag in tags into a freshly allocated buf-sized buffer,
// returning the results keyed by tag. It stops at the first failure.
func ReadAll(e *engine.Engine, tags []uint16, bufSize int) (map[uint16][]byte, error) {
	out := make(map[uint16][]byte, len(tags))

	for _, tag := range tags {
		buf := make([]byte, bufSize)

		n, err := e.Read(tag, buf)
		if err != nil {
			return nil, fmt.Errorf("diag: read all: tag 0x%04X: %w", tag, err)
		}

		out[tag] = append([]byte(nil), buf[:n]...)
	}

	return out, nil
}

// ExportSnapshot reads the first totalSize bytes behind p and writes them to
// path on the host filesystem as a single atomic file, so a diagnostic dump
// of the medium can't be left half-written if the host crashes mid-export.
func ExportSnapshot(p port.Port, totalSize uint32, path string) error {
	buf := make([]byte, totalSize)

	if err := p.ReadAt(0, buf); err != nil {
		return fmt.Errorf("diag: export snapshot: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("diag: export snapshot: write %s: %w", path, err)
	}

	return nil
}

// ImportSnapshot reads path from the host filesystem and writes its bytes
// into p starting at address 0, the inverse of ExportSnapshot.
func ImportSnapshot(p port.Port, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("diag: import snapshot: read %s: %w", path, err)
	}

	if err := p.WriteAt(0, data); err != nil {
		return fmt.Errorf("diag: import snapshot: %w", err)
	}

	return nil
}

// VerifyReport is a human-readable rendering of engine.Engine.VerifyAll's
// outcome, plus the statistics that usually accompany a support request.
type VerifyReport struct {
	OK    bool
	Error string
	Stats engine.Statistics
}

// Verify runs e.VerifyAll and e.Statistics and packages the result for
// display, instead of propagating a bare error to a CLI user.
func Verify(e *engine.Engine) VerifyReport {
	stats, _ := e.Statistics()

	if err := e.VerifyAll(); err != nil {
		return VerifyReport{OK: false, Error: err.Error(), Stats: stats}
	}

	return VerifyReport{OK: true, Stats: stats}
}

// String renders the report the way a CLI would print it.
func (r VerifyReport) String() string {
	status := "OK"
	if !r.OK {
		status = "FAILED: " + r.Error
	}

	return fmt.Sprintf(
		"verify: %s\ntags=%d used=%d free=%d fragments=%d waste=%d writes=%d",
		status, r.Stats.TagCount, r.Stats.UsedBytes, r.Stats.FreeBytes,
		r.Stats.FragmentCount, r.Stats.FragmentWaste, r.Stats.WriteCounter,
	)
}
