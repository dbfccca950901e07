package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes: normal, unhandled fault, usage error, unsupported mode.
const (
	exitOK              = 0
	exitUnhandledFault  = 1
	exitUsageError      = 2
	exitUnsupportedMode = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsageError
	}

	var unsupported *unsupportedModeError
	if errors.As(err, &unsupported) {
		return exitUnsupportedMode
	}

	return exitUnhandledFault
}
