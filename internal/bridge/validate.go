package bridge

import (
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ValidateCompanionProcess checks that a recorded pid is still running
// and still looks like the companion for the given udid. This prevents
// signalling an unrelated process after pid reuse.
func ValidateCompanionProcess(pid int, udid string) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		slog.Debug("Process not found", "pid", pid, "udid", udid)
		return false
	}

	running, err := proc.IsRunning()
	if err != nil || !running {
		slog.Debug("Process not running", "pid", pid, "udid", udid, "error", err)
		return false
	}

	cmdline, err := proc.Cmdline()
	if err != nil {
		slog.Debug("Failed to read process command line", "pid", pid, "udid", udid, "error", err)
		return false
	}

	if !matchesCompanionCmdline(cmdline, udid) {
		slog.Debug("Process command line mismatch",
			"pid", pid,
			"udid", udid,
			"actual", cmdline)
		return false
	}

	return true
}

// matchesCompanionCmdline checks that a command line looks like a
// companion invocation for udid. We use "contains" matching because the
// actual cmdline may carry additional arguments.
func matchesCompanionCmdline(cmdline, udid string) bool {
	if udid == "" {
		return false
	}
	if !strings.Contains(cmdline, "--udid") {
		return false
	}
	return strings.Contains(cmdline, udid)
}
