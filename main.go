package main

import (
	"fmt"
	"os"

	"github.com/orthovision/orthovision/cmd"
	"github.com/orthovision/orthovision/internal/buildinfo"
)

// Set through -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	build := &buildinfo.Context{
		Version:   version,
		BuildDate: buildDate,
	}

	if err := cmd.RootCommand(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
