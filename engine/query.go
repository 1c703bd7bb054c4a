package engine

// Statistics is the snapshot returned by engine.Engine.Statistics, covering
// the header's accounting fields plus the write/update counters recovered
// from original_source/ (SPEC_FULL.md §12).
type Statistics struct {
	TagCount              uint16
	UsedBytes             uint32
	FreeBytes             uint32
	FragmentCount         uint32
	FragmentWaste         uint32
	DataRegionSize        uint32
	WriteCounter          uint32
	LastUpdateUnixSeconds uint32
}

// Statistics returns a snapshot of the header's accounting fields.
func (e *Engine) Statistics() (Statistics, error) {
	if err := e.requireInitialised(); err != nil {
		return Statistics{}, err
	}

	return Statistics{
		TagCount:              e.hdr.TagCount,
		UsedBytes:             e.hdr.UsedBytes,
		FreeBytes:             e.hdr.FreeBytes,
		FragmentCount:         e.hdr.FragmentCount,
		FragmentWaste:         e.hdr.FragmentWaste,
		DataRegionSize:        e.hdr.DataRegionSize,
		WriteCounter:          e.hdr.TotalWrites,
		LastUpdateUnixSeconds: e.hdr.LastUpdateTime,
	}, nil
}

// FreeSpace returns the header's aggregate free-byte count.
func (e *Engine) FreeSpace() (uint32, error) {
	if err := e.requireInitialised(); err != nil {
		return 0, err
	}

	return e.hdr.FreeBytes, nil
}

// UsedSpace returns the header's aggregate used-byte count.
func (e *Engine) UsedSpace() (uint32, error) {
	if err := e.requireInitialised(); err != nil {
		return 0, err
	}

	return e.hdr.UsedBytes, nil
}

// Fragmentation returns the current fragmentation percentage: fragment
// waste as a fraction of the data region size.
func (e *Engine) Fragmentation() (int, error) {
	if err := e.requireInitialised(); err != nil {
		return 0, err
	}

	return e.fragmentationPercent(), nil
}

// ForEach calls fn once per VALID index entry, in slot order. fn returning
// false stops the iteration early.
func (e *Engine) ForEach(fn func(tag uint16, addr uint32, version uint8) bool) error {
	if err := e.requireInitialised(); err != nil {
		return err
	}

	for _, entry := range e.idx.Entries {
		if !entry.Valid() {
			continue
		}

		if !fn(entry.Tag, entry.Addr, entry.Version) {
			break
		}
	}

	return nil
}

// Flush re-persists Header and Index. Every mutating operation already
// saves both before returning, so Flush exists for hosts that want an
// explicit durability checkpoint without performing a write.
func (e *Engine) Flush() error {
	if err := e.requireInitialised(); err != nil {
		return err
	}

	if err := e.idx.Save(e.port, e.layout.IndexAddr); err != nil {
		return e.fail(0, "engine.Flush", classify(err))
	}

	if err := e.hdr.Save(e.port, e.layout.HeaderAddr); err != nil {
		return e.fail(0, "engine.Flush", classify(err))
	}

	return nil
}
