// Package config holds the engine's preprocessor-gated feature switches as
// an ordinary configuration record passed at init time (spec.md §9:
// "expose as a small configuration record... with boolean switches
// enumerated"), plus an optional JSONC loader for host tooling.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config is the full set of engine feature switches.
type Config struct {
	// DebugTrace records that debug tracing was requested (tlvctl --debug
	// sets it). The engine does not read it: what the engine logs depends
	// only on the obslog.Logger passed to engine.New, and successful
	// operations are not traced.
	DebugTrace bool `json:"debug_trace,omitempty"`

	// LazyMigrateOnRead enables the on-read migration path in spec.md §4.6.
	// Disabled, a stale-schema record is returned to the caller as-is.
	LazyMigrateOnRead bool `json:"lazy_migrate_on_read,omitempty"`

	// AutoMigrateOnBoot walks every valid entry once during Init and
	// migrates it eagerly instead of waiting for the first read (recovered
	// from original_source/src/tlv_core.c's init path; see SPEC_FULL.md §12).
	AutoMigrateOnBoot bool `json:"auto_migrate_on_boot,omitempty"`

	// AutoCleanFragment enables the automatic defragment pass at the end of
	// Write (spec.md §4.5 step 8).
	AutoCleanFragment bool `json:"auto_clean_fragment,omitempty"`

	// AutoDefragThresholdPercent is the fragmentation percentage
	// (fragment_waste / data_region_size * 100) at or above which an
	// automatic defragment runs, when AutoCleanFragment is set.
	AutoDefragThresholdPercent int `json:"auto_defrag_threshold_percent,omitempty"`

	// ErrorTracking enables the circular error-history buffer in
	// package errctx; when false only the last-error slot is kept.
	ErrorTracking bool `json:"error_tracking,omitempty"`

	// ErrorHistoryDepth is the capacity of the circular history buffer,
	// used only when ErrorTracking is set.
	ErrorHistoryDepth int `json:"error_history_depth,omitempty"`

	// StreamPoolCapacity is the number of concurrent chunked stream
	// handles; 0 means stream.DefaultCapacity.
	StreamPoolCapacity int `json:"stream_pool_capacity,omitempty"`
}

// Default returns the conservative default configuration: lazy on-read
// migration is on, boot-time migration and auto-defrag are opt-in, and
// error tracking is on with a small history, per the original firmware's
// shipped defaults.
func Default() Config {
	return Config{
		LazyMigrateOnRead:          true,
		AutoCleanFragment:          false,
		AutoDefragThresholdPercent: 25,
		ErrorTracking:              true,
		ErrorHistoryDepth:          8,
	}
}

// LoadFile reads a JSONC config override file (comments and trailing commas
// allowed, via hujson) and merges it onto Default(), mirroring the
// teacher's LoadConfig precedence chain (defaults, then file, then explicit
// CLI overrides applied by the caller afterward).
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled CLI/tooling input
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid JSONC in %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}

	return cfg, nil
}
