package tlvcli

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

// defaultReadBufSize is used when the tag is unknown to app.Meta (raw
// inspection of a medium whose schema file wasn't supplied).
const defaultReadBufSize = 64 * 1024

// ReadCmd returns the "read" command: fetch a tag's payload and write it to
// a host file (or stdout, with "-").
func ReadCmd(app *App) *Command {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "read <tag> <file|-> [flags]",
		Short: "Read a tag's payload to a file",
		Long:  "Read the tag's current payload via engine.Read and write it to the named file, or stdout if the argument is \"-\".",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("read: expected <tag> <file>, got %d argument(s)", len(args))
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

			bufSize := defaultReadBufSize
			if m, ok := app.Meta.Lookup(tag); ok {
				bufSize = int(m.MaxLength)
			}

			buf := make([]byte, bufSize)

			n, err := eng.Read(tag, buf)
			if err != nil {
				return fmt.Errorf("read: tag 0x%04X: %w", tag, err)
			}

			if err := writeOutput(args[1], buf[:n]); err != nil {
				return fmt.Errorf("read: %w", err)
			}

			o.Println("read", n, "bytes from tag", fmt.Sprintf("0x%04X", tag))

			return nil
		},
	}
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)

		return err
	}

	return os.WriteFile(path, data, 0o644) //nolint:gosec // path is caller-controlled CLI input
}
