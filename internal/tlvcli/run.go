package tlvcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tlvfram/tlvfram/config"
	"github.com/tlvfram/tlvfram/engine"
	"github.com/tlvfram/tlvfram/internal/obslog"
	"github.com/tlvfram/tlvfram/meta"
	"github.com/tlvfram/tlvfram/port"
)

const shutdownTimeout = 5 * time.Second

// Run is tlvctl's entry point. sigCh may be nil when signal handling isn't
// needed (tests).
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("tlvctl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagFile := globalFlags.StringP("file", "f", "", "Medium image `file` (created by 'format' if missing)")
	flagSize := globalFlags.Int64P("size", "s", int64(engine.DefaultLayout.BackupAddr)+int64(engine.DefaultLayout.BackupSize()), "Medium image size in bytes")
	flagSchema := globalFlags.String("schema", "", "JSONC tag schema `file` (meta.LoadSchemaFile)")
	flagConfig := globalFlags.String("config", "", "JSONC engine config override `file`")
	flagDebug := globalFlags.Bool("debug", false, "Enable verbose engine tracing")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out)

		return 0
	}

	if *flagFile == "" {
		fprintln(errOut, "error: --file is required")
		printGlobalOptions(errOut)

		return 1
	}

	app, err := buildApp(*flagFile, *flagSize, *flagSchema, *flagConfig, *flagDebug)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	commands := allCommands(app)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut)

		return 1
	}

	cmdIO := NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		if exitCode != 0 {
			return exitCode
		}

		return cmdIO.Finish()
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")

		return 130
	case <-time.After(shutdownTimeout):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")

		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")

		return 130
	}
}

func buildApp(path string, size int64, schemaPath, configPath string, debug bool) (*App, error) {
	table, err := meta.NewTable(nil)
	if err != nil {
		return nil, fmt.Errorf("tlvctl: build empty schema: %w", err)
	}

	if schemaPath != "" {
		table, err = meta.LoadSchemaFile(schemaPath)
		if err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	var log *obslog.Logger

	if debug {
		cfg.DebugTrace = true

		log, err = obslog.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("tlvctl: build logger: %w", err)
		}
	}

	return &App{
		Path:   path,
		Size:   size,
		Layout: engine.DefaultLayout,
		Meta:   table,
		Config: cfg,
		Clock:  port.SystemClock{},
		Log:    log,
	}, nil
}

func allCommands(app *App) []*Command {
	return []*Command{
		FormatCmd(app),
		WriteCmd(app),
		ReadCmd(app),
		DeleteCmd(app),
		StatCmd(app),
		VerifyCmd(app),
		BackupCmd(app),
		RestoreCmd(app),
		DefragCmd(app),
		ShellCmd(app),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  -f, --file <file>      Medium image file (created by 'format' if missing)
  -s, --size <bytes>     Medium image size in bytes
  --schema <file>        JSONC tag schema file
  --config <file>        JSONC engine config override file
  --debug                Enable verbose engine tracing`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: tlvctl [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'tlvctl --help' for a list of commands.")
}

func printUsage(w io.Writer) {
	fprintln(w, "tlvctl - tlvfram medium inspector and driver")
	fprintln(w)
	fprintln(w, "Usage: tlvctl [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range allCommands(&App{}) {
		fprintln(w, cmd.HelpLine())
	}
}
