package engine

import (
	"fmt"

	"github.com/tlvfram/tlvfram/defrag"
)

// Defragment implements spec.md §4.11: back up the current regions first (so
// a failure mid-compaction leaves a recoverable Backup), compact the Data
// region and re-sort the Index, then save Index, save Header, and back up
// again. Per Open Question #1 in spec.md §9, Defragment is rejected outright
// while any stream handle is open, rather than rewriting in-flight handle
// addresses.
func (e *Engine) Defragment() (defrag.Result, error) {
	if err := e.requireInitialised(); err != nil {
		return defrag.Result{}, err
	}

	if e.pool.InUse() > 0 {
		return defrag.Result{}, e.fail(0, "engine.Defragment", fmt.Errorf("%w: %d stream handle(s) still open", ErrInvalidState, e.pool.InUse()))
	}

	res, err := e.defragmentLockedResult()
	if err != nil {
		return defrag.Result{}, e.fail(0, "engine.Defragment", classify(err))
	}

	return res, nil
}

// defragmentLocked is the error-only wrapper used by the auto-defragment
// trigger in write.go, where the caller only cares whether it succeeded.
func (e *Engine) defragmentLocked() error {
	_, err := e.defragmentLockedResult()

	return err
}

func (e *Engine) defragmentLockedResult() (defrag.Result, error) {
	if err := e.backupAllLocked(); err != nil {
		return defrag.Result{}, fmt.Errorf("engine: defragment: pre-compaction backup: %w", err)
	}

	res, err := defrag.Run(e.port, &e.hdr, &e.idx)
	if err != nil {
		return defrag.Result{}, fmt.Errorf("engine: defragment: %w", err)
	}

	if err := e.idx.Save(e.port, e.layout.IndexAddr); err != nil {
		return defrag.Result{}, fmt.Errorf("engine: defragment: save index: %w", err)
	}

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		return defrag.Result{}, fmt.Errorf("engine: defragment: save header: %w", err)
	}

	if err := e.backupAllLocked(); err != nil {
		return defrag.Result{}, fmt.Errorf("engine: defragment: post-compaction backup: %w", err)
	}

	e.alloc.SetNext(e.hdr.NextFreeAddr)

	return res, nil
}
