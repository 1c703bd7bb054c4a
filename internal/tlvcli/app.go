// Package tlvcli is tlvctl's command-line frontend over package engine: a
// thin pflag-based dispatcher (adapted from the teacher's internal/cli) that
// opens a file-backed medium image and drives Engine's public API.
package tlvcli

import (
	"fmt"

	"github.com/tlvfram/tlvfram/config"
	"github.com/tlvfram/tlvfram/engine"
	"github.com/tlvfram/tlvfram/internal/obslog"
	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/port"
	"github.com/tlvfram/tlvfram/port/fileport"
)

// App bundles the global settings every command needs to open the medium
// image: the host file backing it, the region layout, the tag schema, and
// the engine configuration. Commands are closures over an *App built once
// in Run from global flags.
type App struct {
	Path   string
	Size   int64
	Layout engine.Layout
	Meta   *meta.Table
	Config config.Config
	Clock  port.Clock
	Log    *obslog.Logger
}

// openRaw opens the backing file and constructs an Engine without calling
// Init, for commands (format) that must run before the medium holds a valid
// Header/Index.
func (a *App) openRaw() (*engine.Engine, *fileport.File, error) {
	fp, err := fileport.Open(a.Path, a.Size)
	if err != nil {
		return nil, nil, fmt.Errorf("tlvctl: open %s: %w", a.Path, err)
	}

	eng, err := engine.New(fp, a.Clock, a.Layout, a.Meta, a.Config, a.Log)
	if err != nil {
		_ = fp.Close()

		return nil, nil, fmt.Errorf("tlvctl: construct engine: %w", err)
	}

	return eng, fp, nil
}

// open opens the medium and runs Init, the entry point every data-facing
// command uses. The caller is responsible for closing fp once done.
func (a *App) open() (*engine.Engine, *fileport.File, error) {
	eng, fp, err := a.openRaw()
	if err != nil {
		return nil, nil, err
	}

	if _, err := eng.Init(); err != nil {
		_ = fp.Close()

		return nil, nil, fmt.Errorf("tlvctl: init %s (run 'tlvctl format' first?): %w", a.Path, err)
	}

	return eng, fp, nil
}
