// Package proc is a narrow /proc sanity check used before signalling a
// recorded subprocess PID across a daemon restart, so orphan cleanup never
// sends SIGTERM to an unrelated process that happens to have been assigned
// the same PID after the original agent process exited.
package proc

import (
	"fmt"
	"os"
	"strings"
)

// Mismatch reports whether pid is definitely running as something other
// than needle: its /proc/<pid>/cmdline can be read and does not contain
// needle. A pid whose cmdline can't be read — because the process has
// already exited, which is the common case for an orphaned session — is
// not treated as a mismatch; the caller should still attempt to signal
// it and let ESRCH tell it the process is already gone.
func Mismatch(pid int, needle string) bool {
	if pid <= 0 || needle == "" {
		return false
	}

	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(data) == 0 {
		return false
	}

	cmdline := strings.ToLower(strings.ReplaceAll(string(data), "\x00", " "))
	return !strings.Contains(cmdline, strings.ToLower(needle))
}
