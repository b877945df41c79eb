// Command s3glob lists and downloads S3 objects whose keys match a glob.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/s3glob/s3glob/internal/cmd"
	"github.com/s3glob/s3glob/internal/observability"
)

// Populated by the release build via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err == nil {
		return
	}

	printErrorChain(err)
	os.Exit(cmd.ExitCode(err))
}

// printErrorChain prints the error and its distinct causes, bounded so a
// deeply wrapped error cannot flood the terminal.
func printErrorChain(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	prev := err.Error()
	for depth := 0; depth < 10; depth++ {
		err = errors.Unwrap(err)
		if err == nil {
			return
		}
		if msg := err.Error(); msg != prev {
			fmt.Fprintf(os.Stderr, "  : %s\n", msg)
			prev = msg
		}
	}
}
