package tlvcli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// DefragCmd returns the "defrag" command: compact the data region and
// re-sort the index.
func DefragCmd(app *App) *Command {
	fs := flag.NewFlagSet("defrag", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "defrag",
		Short: "Compact the data region",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			res, err := eng.Defragment()
			if err != nil {
				return fmt.Errorf("defrag: %w", err)
			}

			o.Printf("defragmented: %+v\n", res)

			return nil
		},
	}
}
