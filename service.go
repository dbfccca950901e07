package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "service",
		Short: "Run the synchronizer in service mode (Windows only)",
		Long: `On Windows, runs exactly what console mode runs. It does not
register with or report to the Service Control Manager. On any other
platform this mode is unsupported and exits with code 3.`,
		RunE: runService,
	}
}

func runService(cmd *cobra.Command, args []string) error {
	if runtime.GOOS != "windows" {
		return newUnsupportedModeError(fmt.Errorf("service mode is only supported on Windows (got %s); use 'console' instead", runtime.GOOS))
	}

	// No Service Control Manager hosting: the command runs console mode
	// unchanged.
	return runConsole(cmd, args)
}
