package tlvcli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// StatCmd returns the "stat" command: print header accounting and, with
// --ls, every valid tag in the index.
func StatCmd(app *App) *Command {
	fs := flag.NewFlagSet("stat", flag.ContinueOnError)
	listTags := fs.Bool("ls", false, "Also list every valid tag, address, and schema version")

	return &Command{
		Flags: fs,
		Usage: "stat [flags]",
		Short: "Print medium statistics",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			stats, err := eng.Statistics()
			if err != nil {
				return fmt.Errorf("stat: %w", err)
			}

			frag, err := eng.Fragmentation()
			if err != nil {
				return fmt.Errorf("stat: %w", err)
			}

			o.Printf("tags=%d used=%d free=%d data_region=%d\n", stats.TagCount, stats.UsedBytes, stats.FreeBytes, stats.DataRegionSize)
			o.Printf("fragments=%d fragment_waste=%d fragmentation=%d%%\n", stats.FragmentCount, stats.FragmentWaste, frag)
			o.Printf("writes=%d last_update_unix=%d\n", stats.WriteCounter, stats.LastUpdateUnixSeconds)

			if *listTags {
				err := eng.ForEach(func(tag uint16, addr uint32, version uint8) bool {
					o.Printf("  0x%04X addr=%d version=%d\n", tag, addr, version)

					return true
				})
				if err != nil {
					return fmt.Errorf("stat: ls: %w", err)
				}
			}

			return nil
		},
	}
}
