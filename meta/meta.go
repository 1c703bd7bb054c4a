// Package meta is the read-only per-tag metadata registry the core engine
// consults but never owns. A host builds a Table once at startup (typically
// from a const slice) and hands it to engine.New.
//
// Unlike the original firmware's table, this Table is an explicit-length
// Go slice: there is no sentinel tag (0xFFFF) marking the end, per the
// REDESIGN FLAG in spec.md §9.
package meta

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Migrator upgrades a single tag's payload by exactly one schema version
// step. Implementations are per-tag strategies, replacing the original
// firmware's bare function-pointer table (spec.md §9 REDESIGN FLAG: a
// capability interface instead of polymorphism via raw pointers).
type Migrator interface {
	// UpgradeStep transforms buf[:oldLen] in place from oldVer to the next
	// version up, returning the new length. It may write fewer or more
	// bytes than oldLen (up to maxSize). The migration driver in package
	// migrate calls this once per version step.
	UpgradeStep(buf []byte, oldLen int, maxSize int, oldVer, newVer uint8) (newLen int, err error)
}

// Entry describes one tag's static policy.
type Entry struct {
	Tag       uint16
	MaxLength uint16
	// Priority orders the tags PriorityOrder returns; lower values come
	// first and ties are broken by tag value. The engine does not consult
	// it, and index.Table.FindHint takes a slot number, not a priority.
	// This mirrors the original firmware's table ordering, where frequently
	// accessed tags were declared first.
	Priority uint8
	Version  uint8
	// BackupFlag mirrors the IndexEntry CRITICAL/BACKUP flag policy;
	// carried through for forward compatibility but not consulted by the
	// core engine today (see SPEC_FULL.md §3).
	BackupFlag bool
	Name       string
	// Migrate is nil for tags that have never changed schema version.
	Migrate Migrator
}

// Table is the read-only registry of known tags.
type Table struct {
	byTag   map[uint16]Entry
	ordered []Entry
}

// NewTable builds a Table from entries. Duplicate tags are rejected.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{
		byTag:   make(map[uint16]Entry, len(entries)),
		ordered: make([]Entry, len(entries)),
	}

	copy(t.ordered, entries)

	for _, e := range entries {
		if e.Tag == 0 {
			return nil, fmt.Errorf("meta: tag 0 is reserved for empty slots, cannot register an entry for it")
		}

		if _, dup := t.byTag[e.Tag]; dup {
			return nil, fmt.Errorf("meta: duplicate tag 0x%04X in table", e.Tag)
		}

		t.byTag[e.Tag] = e
	}

	return t, nil
}

// Lookup returns the Entry for tag, or false if the tag is unknown.
func (t *Table) Lookup(tag uint16) (Entry, bool) {
	e, ok := t.byTag[tag]

	return e, ok
}

// Len returns the number of registered tags.
func (t *Table) Len() int {
	return len(t.ordered)
}

// PriorityOrder returns tags sorted by ascending Priority (ties broken by
// tag value).
func (t *Table) PriorityOrder() []Entry {
	out := make([]Entry, len(t.ordered))
	copy(out, t.ordered)

	// Simple insertion sort: meta tables are small (<=256 entries) and
	// near-sorted in steady state, matching the allocator/defrag rationale
	// in spec.md §4.11.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}

	return out
}

// schemaEntry is the on-disk JSONC shape LoadSchemaFile parses. Migration is
// not expressible from a schema file — host tooling deals in raw bytes, not
// per-tag upgrade code — so entries loaded this way never carry a Migrate.
type schemaEntry struct {
	Tag        uint16 `json:"tag"`
	MaxLength  uint16 `json:"max_length"`
	Priority   uint8  `json:"priority,omitempty"`
	Version    uint8  `json:"version"`
	BackupFlag bool   `json:"backup_flag,omitempty"`
	Name       string `json:"name,omitempty"`
}

// LoadSchemaFile builds a Table from a JSONC file holding a top-level array
// of schema entries, for host tooling (cmd/tlvctl) that has no compiled-in
// meta table of its own, mirroring config.LoadFile's hujson precedence.
func LoadSchemaFile(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled CLI/tooling input
	if err != nil {
		return nil, fmt.Errorf("meta: read schema %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("meta: invalid JSONC in %s: %w", path, err)
	}

	var raw []schemaEntry
	if err := json.Unmarshal(standardized, &raw); err != nil {
		return nil, fmt.Errorf("meta: invalid JSON in %s: %w", path, err)
	}

	entries := make([]Entry, len(raw))
	for i, r := range raw {
		entries[i] = Entry{
			Tag:        r.Tag,
			MaxLength:  r.MaxLength,
			Priority:   r.Priority,
			Version:    r.Version,
			BackupFlag: r.BackupFlag,
			Name:       r.Name,
		}
	}

	return NewTable(entries)
}

func less(a, b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}

	return a.Tag < b.Tag
}
