package engine

import (
	"errors"
	"fmt"

	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/index"
	"github.com/tlvfram/tlvfram/migrate"
	"github.com/tlvfram/tlvfram/record"
	"github.com/tlvfram/tlvfram/stream"
)

// Sentinel errors, one per code in spec.md §6. Callers classify with
// errors.Is; every failing path also records an errctx.Entry (spec.md §7).
var (
	ErrInvalidParam   = errors.New("engine: invalid parameter")
	ErrNoBufferMemory = errors.New("engine: buffer too small")
	ErrNotFound       = errors.New("engine: tag not found")
	ErrCRCFailed      = errors.New("engine: CRC mismatch")
	ErrVersion        = errors.New("engine: incompatible version")
	ErrNoMemorySpace  = errors.New("engine: data region full")
	ErrNoIndexSpace   = errors.New("engine: index table full")
	ErrCorrupted      = errors.New("engine: medium corrupted")
	ErrInvalidHandle  = errors.New("engine: invalid stream handle")
	ErrInvalidState   = errors.New("engine: operation not valid in current state")
	// ErrPort wraps a generic, otherwise unclassified storage-driver error.
	ErrPort = errors.New("engine: storage driver error")
)

// engineSentinels lists the errors classify must pass through unchanged:
// callers like deleteLocked/writeLocked already return an engine-level
// sentinel directly (ErrNotFound, ErrNoMemorySpace, ErrNoIndexSpace,
// ErrCorrupted, ...), and classify must not downgrade those to ErrPort.
var engineSentinels = []error{
	ErrInvalidParam, ErrNoBufferMemory, ErrNotFound, ErrCRCFailed, ErrVersion,
	ErrNoMemorySpace, ErrNoIndexSpace, ErrCorrupted, ErrInvalidHandle, ErrInvalidState,
}

// classify maps a lower-layer sentinel (header/index/record/migrate/stream)
// onto the matching engine-level sentinel, so callers only ever need to
// errors.Is against the engine package. An error that already carries one
// of the engine's own sentinels (set by the engine package itself, not a
// lower layer) passes through unchanged; anything else unrecognized
// becomes ErrPort wrapping the original error.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, header.ErrCorrupted), errors.Is(err, header.ErrVersion):
		if errors.Is(err, header.ErrVersion) {
			return ErrVersion
		}

		return ErrCorrupted
	case errors.Is(err, header.ErrCRCFailed), errors.Is(err, index.ErrCRCFailed), errors.Is(err, record.ErrCRCFailed):
		return ErrCRCFailed
	case errors.Is(err, record.ErrNoBufferMemory):
		return ErrNoBufferMemory
	case errors.Is(err, record.ErrTagMismatch):
		return ErrCorrupted
	case errors.Is(err, migrate.ErrVersion):
		return ErrVersion
	case errors.Is(err, migrate.ErrInvalidParam):
		return ErrInvalidParam
	case errors.Is(err, migrate.ErrNoBufferMemory):
		return ErrNoBufferMemory
	case errors.Is(err, stream.ErrInvalidHandle):
		return ErrInvalidHandle
	case errors.Is(err, stream.ErrPoolExhausted):
		return ErrInvalidState
	default:
		for _, sentinel := range engineSentinels {
			if errors.Is(err, sentinel) {
				return err
			}
		}

		return fmt.Errorf("%w: %w", ErrPort, err)
	}
}
