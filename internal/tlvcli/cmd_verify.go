package tlvcli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/tlvfram/tlvfram/diag"
)

// VerifyCmd returns the "verify" command: run every universal invariant
// check in diag.Verify and print the resulting report.
func VerifyCmd(app *App) *Command {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "verify",
		Short: "Check header/index/record invariants",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			report := diag.Verify(eng)

			o.Println(report.String())

			if !report.OK {
				o.WarnLLM("medium failed verification: "+report.Error, "inspect the image or restore from backup before writing further")
			}

			return nil
		},
	}
}
