package tlvcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/tlvfram/tlvfram/diag"
	"github.com/tlvfram/tlvfram/engine"
)

var shellCommands = []string{
	"write", "read", "del", "delete", "ls", "stat",
	"verify", "backup", "restore", "defrag",
	"help", "exit", "quit", "q",
}

// ShellCmd returns the "shell" command: an interactive liner-backed REPL
// around an already-open Engine, grounded on the teacher's sloty REPL.
func ShellCmd(app *App) *Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "shell",
		Short: "Interactive inspector shell",
		Long:  "Open the medium once and accept write/read/del/ls/stat/verify/backup/defrag commands interactively, with history and tab completion.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			eng, fp, err := app.open()
			if err != nil {
				return err
			}
			defer func() { _ = fp.Close() }()

			sh := &shell{app: app, eng: eng, o: o}

			return sh.run()
		},
	}
}

type shell struct {
	app *App
	eng *engine.Engine
	o   *IO
	ln  *liner.State
}

func shellHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".tlvctl_history")
}

func (s *shell) run() error {
	s.ln = liner.NewLiner()
	defer s.ln.Close()

	s.ln.SetCtrlCAborts(true)
	s.ln.SetCompleter(s.completer)

	if f, err := os.Open(shellHistoryFile()); err == nil {
		_, _ = s.ln.ReadHistory(f)
		_ = f.Close()
	}

	s.o.Println("tlvctl shell -", s.app.Path)
	s.o.Println("Type 'help' for commands, 'exit' to quit.")

	for {
		line, err := s.ln.Prompt("tlvctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				s.o.Println("bye")

				break
			}

			return fmt.Errorf("shell: read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.ln.AppendHistory(line)

		fields := strings.Fields(line)
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		if cmd == "exit" || cmd == "quit" || cmd == "q" {
			break
		}

		s.dispatch(cmd, args)
	}

	s.saveHistory()

	return nil
}

func (s *shell) saveHistory() {
	path := shellHistoryFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil { //nolint:gosec // fixed dotfile under home dir
		_, _ = s.ln.WriteHistory(f)
		_ = f.Close()
	}
}

func (s *shell) completer(line string) []string {
	var out []string

	for _, c := range shellCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}

	return out
}

func (s *shell) dispatch(cmd string, args []string) {
	var err error

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "write":
		err = s.cmdWrite(args)
	case "read":
		err = s.cmdRead(args)
	case "del", "delete":
		err = s.cmdDelete(args)
	case "ls":
		err = s.cmdLs()
	case "stat":
		err = s.cmdStat()
	case "verify":
		s.o.Println(diag.Verify(s.eng).String())
	case "backup":
		err = s.eng.BackupAll()
	case "restore":
		err = s.eng.RestoreFromBackup()
	case "defrag":
		err = s.cmdDefrag()
	default:
		s.o.Printf("unknown command: %s (type 'help')\n", cmd)
	}

	if err != nil {
		s.o.ErrPrintln("error:", err)
	}
}

func (s *shell) printHelp() {
	s.o.Println("  write <tag> <file|->   write file contents to tag")
	s.o.Println("  read <tag> <file|->    read tag payload to file")
	s.o.Println("  del <tag>              delete a tag")
	s.o.Println("  ls                     list valid tags")
	s.o.Println("  stat                   print medium statistics")
	s.o.Println("  verify                 check invariants")
	s.o.Println("  backup                 back up primary region")
	s.o.Println("  restore                restore from backup")
	s.o.Println("  defrag                 compact the data region")
	s.o.Println("  exit / quit / q        leave the shell")
}

func (s *shell) cmdWrite(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: write <tag> <file|->")
	}

	tag, err := parseUint16(args[0])
	if err != nil {
		return err
	}

	data, err := readInput(args[1])
	if err != nil {
		return err
	}

	if err := s.eng.Write(tag, data); err != nil {
		return err
	}

	s.o.Println("wrote", len(data), "bytes")

	return nil
}

func (s *shell) cmdRead(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: read <tag> <file|->")
	}

	tag, err := parseUint16(args[0])
	if err != nil {
		return err
	}

	bufSize := defaultReadBufSize
	if m, ok := s.app.Meta.Lookup(tag); ok {
		bufSize = int(m.MaxLength)
	}

	buf := make([]byte, bufSize)

	n, err := s.eng.Read(tag, buf)
	if err != nil {
		return err
	}

	if err := writeOutput(args[1], buf[:n]); err != nil {
		return err
	}

	s.o.Println("read", n, "bytes")

	return nil
}

func (s *shell) cmdDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del <tag>")
	}

	tag, err := parseUint16(args[0])
	if err != nil {
		return err
	}

	return s.eng.Delete(tag)
}

func (s *shell) cmdLs() error {
	return s.eng.ForEach(func(tag uint16, addr uint32, version uint8) bool {
		s.o.Printf("0x%04X addr=%d version=%d\n", tag, addr, version)

		return true
	})
}

func (s *shell) cmdStat() error {
	stats, err := s.eng.Statistics()
	if err != nil {
		return err
	}

	frag, err := s.eng.Fragmentation()
	if err != nil {
		return err
	}

	s.o.Printf("tags=%d used=%d free=%d fragmentation=%d%%\n", stats.TagCount, stats.UsedBytes, stats.FreeBytes, frag)

	return nil
}

func (s *shell) cmdDefrag() error {
	res, err := s.eng.Defragment()
	if err != nil {
		return err
	}

	s.o.Printf("defragmented: %+v\n", res)

	return nil
}
