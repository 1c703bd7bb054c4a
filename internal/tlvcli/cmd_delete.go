package tlvcli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// DeleteCmd returns the "delete" command.
func DeleteCmd(app *App) *Command {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "delete <tag>",
		Short: "Delete a tag's record",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("delete: expected <tag>, got %d argument(s)", len(args))
			}

			tag, err := parseUint16(args[0])
			if err != nil {
				return err
			}

			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			if err := eng.Delete(tag); err != nil {
				return fmt.Errorf("delete: tag 0x%04X: %w", tag, err)
			}

			o.Println("deleted tag", fmt.Sprintf("0x%04X", tag))

			return nil
		},
	}
}
