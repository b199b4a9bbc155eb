package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned when a recorded pid no longer belongs to a
// live companion for the udid.
var ErrNotRunning = errors.New("companion is not running")

// TerminateRecorded stops a companion known only by its recorded pid,
// typically one spawned by an earlier invocation. It validates the pid
// first, asks nicely with SIGTERM, then SIGKILLs after the grace period.
func TerminateRecorded(pid int, udid string, grace time.Duration) error {
	if !ValidateCompanionProcess(pid, udid) {
		return fmt.Errorf("%w: pid %d, udid %q", ErrNotRunning, pid, udid)
	}

	slog.Info("Stopping companion", "udid", udid, "pid", pid)

	// Signal the whole process group so helpers forked by the companion
	// go down with it; fall back to the process itself.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal companion pid %d: %w", pid, err)
		}
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := unix.Kill(pid, 0); err != nil {
			slog.Debug("Companion stopped gracefully", "udid", udid, "pid", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	slog.Warn("Companion did not stop gracefully, force killing", "udid", udid, "pid", pid)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}
