package engine

import (
	"errors"

	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/migrate"
	"github.com/tlvfram/tlvfram/record"
)

// runMigration implements spec.md §4.6 step 3: if the entry's schema
// version is lower than meta.version, migrate and write back. buf holds
// the record as currently read (length n); cap(buf) is the caller's buffer
// capacity, so an upgrade that grows the payload can still fit if there's
// room. Returns the final payload length to report to the caller; after a
// swallowed migration failure buf holds the re-read original record and
// the length is that record's.
func (e *Engine) runMigration(tag uint16, slot int, buf []byte, n int) (int, error) {
	entry := e.idx.Entries[slot]

	m, ok := e.meta.Lookup(tag)
	if !ok {
		return n, nil
	}

	if entry.Version >= m.Version {
		return n, nil
	}

	res, err := migrate.Run(m, buf, n, entry.Version, cap(buf))
	if err != nil {
		if errors.Is(err, migrate.ErrNoBufferMemory) {
			return res.RequiredLen, err
		}

		// Any other migration error (ErrVersion, ErrInvalidParam, or a
		// custom UpgradeStep failure) is logged and downgraded per
		// spec.md §4.6 / Open Question #2: re-read the original record and
		// return it as-is rather than surfacing the migration failure to
		// the read caller.
		e.log.Warnw("engine: migration failed, serving pre-migration record", "tag", tag, "old_version", entry.Version, "target_version", m.Version, "error", err)

		orig, readErr := record.Read(e.port, entry.Addr, buf[:cap(buf)])
		if readErr != nil {
			return 0, readErr
		}

		return orig, nil
	}

	if writeErr := e.writeBack(tag, m, buf[:res.NewLen], entry.Version, m.Version); writeErr != nil {
		// The write-back itself failing is likewise swallowed per the same
		// Open Question: the caller still gets the upgraded bytes in
		// memory even though they weren't persisted, so the next read
		// migrates again from the original on-medium version.
		e.log.Warnw("engine: migration write-back failed", "tag", tag, "error", writeErr)
	}

	return res.NewLen, nil
}

// writeBack persists the migrated payload at the new schema version via the
// normal write path, so the next read is cheap (spec.md §4.12).
func (e *Engine) writeBack(tag uint16, m meta.Entry, upgraded []byte, oldVer, newVer uint8) error {
	_ = oldVer
	_ = newVer

	return e.writeLocked(tag, m, upgraded)
}

// migrateAllOnBoot eagerly migrates every valid, stale entry during Init
// when config.Config.AutoMigrateOnBoot is set (SPEC_FULL.md §12, recovered
// from original_source/src/tlv_core.c).
func (e *Engine) migrateAllOnBoot() {
	for slot := range e.idx.Entries {
		entry := e.idx.Entries[slot]
		if !entry.Valid() {
			continue
		}

		m, ok := e.meta.Lookup(entry.Tag)
		if !ok || entry.Version >= m.Version {
			continue
		}

		buf := make([]byte, m.MaxLength)

		n, err := record.Read(e.port, entry.Addr, buf)
		if err != nil {
			e.log.Warnw("engine: auto-migrate-on-boot: read failed", "tag", entry.Tag, "error", err)

			continue
		}

		if _, err := e.runMigration(entry.Tag, slot, buf[:n], n); err != nil {
			e.log.Warnw("engine: auto-migrate-on-boot: migration failed", "tag", entry.Tag, "error", err)
		}
	}
}
