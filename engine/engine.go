// Package engine is the core of tlvfram: the write/read/delete request
// handlers, the init/format state machine, and the glue between every
// lower-level package (header, index, alloc, record, txn, stream, backup,
// defrag, migrate, errctx). It is the module's main entry point.
//
// An Engine is not safe for concurrent use; spec.md §5 assumes a host that
// serializes its own calls.
package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/alloc"
	"github.com/tlvfram/tlvfram/config"
	"github.com/tlvfram/tlvfram/errctx"
	"github.com/tlvfram/tlvfram/header"
	"github.com/tlvfram/tlvfram/index"
	"github.com/tlvfram/tlvfram/internal/obslog"
	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/port"
	"github.com/tlvfram/tlvfram/stream"
)

// State is the engine's lifecycle state (spec.md §4.14).
type State uint8

const (
	Uninitialised State = iota
	Initialised
	Formatted
	StateError
)

// String renders the state for logs and CLI output.
func (s State) String() string {
	switch s {
	case Uninitialised:
		return "uninitialised"
	case Initialised:
		return "initialised"
	case Formatted:
		return "formatted"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Engine is the tlvfram core. Construct with New, then call Init (or
// Format followed by Init) before any data operation.
type Engine struct {
	port   port.Port
	clock  port.Clock
	layout Layout
	meta   *meta.Table
	cfg    config.Config
	log    *obslog.Logger

	state State

	hdr   header.SystemHeader
	idx   index.Table
	alloc *alloc.Allocator
	pool  *stream.Pool

	errs *errctx.Context
}

// New constructs an Engine bound to p and the given Layout/meta table, in
// state Uninitialised. It does not touch the medium; call Init or Format
// next.
func New(p port.Port, clock port.Clock, layout Layout, metaTable *meta.Table, cfg config.Config, log *obslog.Logger) (*Engine, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	historyDepth := 0
	if cfg.ErrorTracking {
		historyDepth = cfg.ErrorHistoryDepth
	}

	poolCap := cfg.StreamPoolCapacity
	if poolCap <= 0 {
		poolCap = stream.DefaultCapacity
	}

	return &Engine{
		port:   p,
		clock:  clock,
		layout: layout,
		meta:   metaTable,
		cfg:    cfg,
		log:    log,
		state:  Uninitialised,
		pool:   stream.NewPool(poolCap),
		errs:   errctx.New(historyDepth),
	}, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// LastError returns the most recently recorded failure, if any.
func (e *Engine) LastError() (errctx.Entry, bool) { return e.errs.Last() }

// ErrorHistory returns recorded failures oldest-first (empty unless
// config.Config.ErrorTracking is set).
func (e *Engine) ErrorHistory() []errctx.Entry { return e.errs.History() }

// fail stamps err into the error context (if non-nil) and returns it
// unchanged, so call sites can write `return e.fail(tag, "engine.Write", err)`.
func (e *Engine) fail(tag uint16, site string, err error) error {
	if err == nil {
		return nil
	}

	e.errs.Set(errctx.Entry{Err: err, Tag: tag, Timestamp: e.clock.NowSeconds(), Site: site})
	e.log.Debugw("engine: operation failed", "site", site, "tag", tag, "error", err)

	return err
}

// Init loads the Header and Index from the medium and transitions the
// engine to Initialised. On an Index CRC failure it attempts restore from
// the Backup region (spec.md §4.14): success still transitions to
// Initialised (the caller can distinguish "clean" from "recovered" via the
// returned bool). On a Header load failure (first boot, or corruption that
// restore can't fix) the engine stays Uninitialised and recovered is false,
// err is non-nil.
func (e *Engine) Init() (recovered bool, err error) {
	if loadErr := e.hdr.Load(e.port, e.layout.HeaderAddr, 0); loadErr != nil {
		return false, e.fail(0, "engine.Init", classify(loadErr))
	}

	if idxErr := e.idx.Load(e.port, e.layout.IndexAddr); idxErr != nil {
		restoreErr := e.restoreFromBackupLocked()
		if restoreErr != nil {
			return false, e.fail(0, "engine.Init", classify(restoreErr))
		}

		e.finishInit()

		return true, nil
	}

	e.finishInit()

	if e.cfg.AutoMigrateOnBoot {
		e.migrateAllOnBoot()
	}

	return false, nil
}

// finishInit wires the allocator from the loaded header and flips state.
func (e *Engine) finishInit() {
	e.alloc = alloc.New(e.hdr.NextFreeAddr, e.layout.DataAddr+e.layout.DataSize)
	e.state = Initialised
}

// Format reinitialises Header and Index, saves both, backs them up, and
// transitions to Formatted. If magic is 0, header.DefaultMagic is stamped.
// The caller must call Init again afterward (spec.md §4.14).
func (e *Engine) Format(magic uint32) error {
	if magic == 0 {
		magic = header.DefaultMagic
	}

	e.hdr.Init(magic, e.layout.DataAddr, e.layout.DataSize)
	e.idx.Init()

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		e.state = StateError

		return e.fail(0, "engine.Format", classify(err))
	}

	if err := e.idx.Save(e.port, e.layout.IndexAddr); err != nil {
		e.state = StateError

		return e.fail(0, "engine.Format", classify(err))
	}

	if err := e.backupAllLocked(); err != nil {
		e.state = StateError

		return e.fail(0, "engine.Format", classify(err))
	}

	e.state = Formatted

	return nil
}

// Deinit releases in-memory resources (the stream pool) without touching
// the medium. An Engine can be reused after Deinit by calling Init again.
func (e *Engine) Deinit() {
	e.pool = stream.NewPool(e.pool.Cap())
	e.state = Uninitialised
}

// requireInitialised is the guard every data operation starts with. A
// rejection is recorded in the error context like any other failure.
func (e *Engine) requireInitialised() error {
	if e.state != Initialised {
		return e.fail(0, "engine.requireInitialised", fmt.Errorf("%w: engine is %s, want initialised", ErrInvalidState, e.state))
	}

	return nil
}

// metaFor looks up tag, classifying "unknown tag" as ErrNotFound per
// spec.md §4.5 step 1 ("fail NOT_FOUND if unknown tag").
func (e *Engine) metaFor(tag uint16) (meta.Entry, error) {
	m, ok := e.meta.Lookup(tag)
	if !ok {
		return meta.Entry{}, fmt.Errorf("%w: tag 0x%04X", ErrNotFound, tag)
	}

	return m, nil
}
