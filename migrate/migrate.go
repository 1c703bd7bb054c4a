// Package migrate drives the on-read, forward-only schema upgrade of a
// tag's stored payload through a chain of per-version meta.Migrator steps
// (spec.md §4.12).
package migrate

import (
	"errors"
	"fmt"

	"github.com/tlvfram/tlvfram/meta"
)

// Errors returned by Run, mirroring spec.md §4.12's rules.
var (
	// ErrVersion covers both "stored version newer than meta.version"
	// (downgrade unsupported) and "no migration function registered".
	ErrVersion = errors.New("migrate: unsupported version transition")
	// ErrInvalidParam is returned when an upgrade step reports a new length
	// exceeding the tag's declared maximum.
	ErrInvalidParam = errors.New("migrate: upgraded payload exceeds max length")
	// ErrNoBufferMemory is returned when the upgraded payload doesn't fit
	// the caller's buffer; Result.RequiredLen communicates the size needed.
	ErrNoBufferMemory = errors.New("migrate: caller buffer too small for upgraded payload")
)

// Result reports the outcome of Run.
type Result struct {
	// NewLen is the length of the upgraded payload in buf, valid only when
	// Run returns nil.
	NewLen int
	// RequiredLen is set when Run returns ErrNoBufferMemory, giving the
	// caller the buffer size it would need to retry.
	RequiredLen int
}

// Run upgrades buf[:oldLen] from oldVer to entry.Version one step at a
// time (a V1->V3 upgrade runs V1->V2 then V2->V3), using entry.Migrate.
// buf must have capacity maxSize; Run may grow the used prefix up to
// maxSize but never reallocates.
func Run(entry meta.Entry, buf []byte, oldLen int, oldVer uint8, maxSize int) (Result, error) {
	if oldVer > entry.Version {
		return Result{}, fmt.Errorf("%w: stored version %d newer than registered version %d for tag 0x%04X", ErrVersion, oldVer, entry.Version, entry.Tag)
	}

	if oldVer == entry.Version {
		return Result{NewLen: oldLen}, nil
	}

	if entry.Migrate == nil {
		return Result{}, fmt.Errorf("%w: tag 0x%04X has no migration function registered", ErrVersion, entry.Tag)
	}

	curLen := oldLen
	curVer := oldVer

	for curVer < entry.Version {
		nextVer := curVer + 1

		newLen, err := entry.Migrate.UpgradeStep(buf, curLen, maxSize, curVer, nextVer)
		if err != nil {
			return Result{}, fmt.Errorf("migrate: tag 0x%04X step %d->%d: %w", entry.Tag, curVer, nextVer, err)
		}

		if newLen > int(entry.MaxLength) {
			return Result{}, fmt.Errorf("%w: tag 0x%04X step %d->%d produced %d bytes, max %d", ErrInvalidParam, entry.Tag, curVer, nextVer, newLen, entry.MaxLength)
		}

		if newLen > maxSize {
			return Result{RequiredLen: newLen}, ErrNoBufferMemory
		}

		curLen = newLen
		curVer = nextVer
	}

	return Result{NewLen: curLen}, nil
}
