package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		slog.Error("chanpub exited with error", "error", err)
		os.Exit(1)
	}
}
