// Command tlvctl drives a tlvfram medium image from the command line: format,
// write, read, delete, stat, verify, backup/restore, defrag, and an
// interactive inspector shell.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/tlvfram/tlvfram/internal/tlvcli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(tlvcli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, sigCh))
}
