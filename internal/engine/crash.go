package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
)

// crashFilePrefix is the fixed filename stem for a processor crash log;
// the UTC timestamp is appended as a suffix.
const crashFilePrefix = "change_processor_thread_crash"

// writeCrashFile records a recovered panic's value and stack trace to the
// working directory before the supervisor schedules the processor's
// restart.
func writeCrashFile(workDir string, panicVal any, stamp time.Time) error {
	name := crashFilePrefix + "." + strings.ReplaceAll(stamp.UTC().Format(time.RFC3339), ":", "-")

	f, err := os.Create(filepath.Join(workDir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "panic: %v\n\n%s", panicVal, debug.Stack())

	return nil
}
