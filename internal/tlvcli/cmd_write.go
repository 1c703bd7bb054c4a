package tlvcli

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
)

// WriteCmd returns the "write" command: store the contents of a host file
// (or stdin, with "-") under a tag.
func WriteCmd(app *App) *Command {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "write <tag> <file|-> [flags]",
		Short: "Write a file's contents under a tag",
		Long:  "Read the named file (or stdin if the argument is \"-\") and write its full contents to the given tag via engine.Write.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("write: expected <tag> <file>, got %d argument(s)", len(args))
			}

			tag, err := parseUint16(args[0])
			if err != nil {
				return err
			}

			data, err := readInput(args[1])
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}

			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			if err := eng.Write(tag, data); err != nil {
				return fmt.Errorf("write: tag 0x%04X: %w", tag, err)
			}

			o.Println("wrote", len(data), "bytes to tag", fmt.Sprintf("0x%04X", tag))

			return nil
		},
	}
}

// readInput reads path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}

	return os.ReadFile(path) //nolint:gosec // path is caller-controlled CLI input
}
