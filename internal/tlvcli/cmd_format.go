package tlvcli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// FormatCmd returns the "format" command: lay down a fresh Header/Index/
// Backup on the medium image, creating the file if it doesn't exist yet.
func FormatCmd(app *App) *Command {
	fs := flag.NewFlagSet("format", flag.ContinueOnError)
	magicStr := fs.String("magic", "", "Header magic override, hex or decimal (default: header.DefaultMagic)")

	return &Command{
		Flags: fs,
		Usage: "format [flags]",
		Short: "Initialise a fresh medium image",
		Long:  "Write a new Header, Index, and Backup region to the configured file, creating it if needed and extending it to the configured size if it is smaller.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			var magic uint32

			if *magicStr != "" {
				v, err := parseUint32(*magicStr)
				if err != nil {
					return fmt.Errorf("--magic: %w", err)
				}

				magic = v
			}

			eng, fp, err := app.openRaw()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			if err := eng.Format(magic); err != nil {
				return fmt.Errorf("format: %w", err)
			}

			if _, err := eng.Init(); err != nil {
				return fmt.Errorf("format: init after format: %w", err)
			}

			o.Println("formatted", app.Path)

			return nil
		},
	}
}
