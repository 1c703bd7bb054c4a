package tlvcli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/tlvfram/tlvfram/diag"
)

// BackupCmd returns the "backup" command: mirror the primary region into
// the Backup region, or export it to a host file with --out.
func BackupCmd(app *App) *Command {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	out := fs.String("out", "", "Also export the primary region to this host file")

	return &Command{
		Flags: fs,
		Usage: "backup [flags]",
		Short: "Back up the primary region",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			if err := eng.BackupAll(); err != nil {
				return fmt.Errorf("backup: %w", err)
			}

			o.Println("backed up", app.Path)

			if *out != "" {
				if err := diag.ExportSnapshot(fp, app.Layout.RegionSize(), *out); err != nil {
					return fmt.Errorf("backup: export: %w", err)
				}

				o.Println("exported primary region to", *out)
			}

			return nil
		},
	}
}

// RestoreCmd returns the "restore" command: recover the primary region from
// the Backup region after a simulated or real corruption.
func RestoreCmd(app *App) *Command {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "restore",
		Short: "Restore the primary region from the backup region",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			eng, fp, err := app.openRaw()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			if err := eng.RestoreFromBackup(); err != nil {
				return fmt.Errorf("restore: %w", err)
			}

			o.Println("restored", app.Path, "from backup")

			return nil
		},
	}
}
