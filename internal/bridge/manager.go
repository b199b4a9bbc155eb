package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/devbridge-io/devbridge/internal/spawner"
)

// State represents the current state of a managed companion process
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateExited  State = "exited"
)

// Spawner launches companion processes. Satisfied by
// *spawner.CompanionSpawner; an interface so the manager can be tested
// without real child processes.
type Spawner interface {
	Spawn(ctx context.Context, udid string) (*spawner.Companion, error)
}

// CompanionProc is a live companion under management
type CompanionProc struct {
	Udid      string
	Pid       int
	Hostname  string
	Port      int
	StartTime time.Time

	state     State
	exitCode  *int
	exitError string

	proc   spawner.Process
	output *OutputStream
	done   chan struct{}
	mu     sync.RWMutex
}

// Output returns the stream carrying the companion's post-handshake
// stdout lines.
func (cp *CompanionProc) Output() *OutputStream { return cp.output }

// Done is closed when the companion process has exited
func (cp *CompanionProc) Done() <-chan struct{} { return cp.done }

// CurrentState returns the companion's state
func (cp *CompanionProc) CurrentState() State {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.state
}

// ExitCode returns the exit code once the companion has exited
func (cp *CompanionProc) ExitCode() *int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.exitCode
}

// Manager tracks companions spawned in this process and supervises them
// until they exit or are stopped.
type Manager struct {
	spawner          Spawner
	companions       map[string]*CompanionProc
	tailLines        int
	terminateTimeout time.Duration
	mu               sync.RWMutex
}

// NewManager creates a manager spawning through sp. terminateTimeout is
// the grace period between SIGTERM and SIGKILL when stopping.
func NewManager(sp Spawner, terminateTimeout time.Duration) *Manager {
	return &Manager{
		spawner:          sp,
		companions:       make(map[string]*CompanionProc),
		tailLines:        1000,
		terminateTimeout: terminateTimeout,
	}
}

// Spawn launches a companion for udid and begins supervising it
func (m *Manager) Spawn(ctx context.Context, udid string) (*CompanionProc, error) {
	m.mu.RLock()
	existing := m.companions[udid]
	m.mu.RUnlock()

	if existing != nil && existing.CurrentState() == StateRunning {
		return nil, fmt.Errorf("companion for %q is already running (pid %d)", udid, existing.Pid)
	}

	companion, err := m.spawner.Spawn(ctx, udid)
	if err != nil {
		return nil, err
	}

	cp := &CompanionProc{
		Udid:      companion.Udid,
		Pid:       companion.Pid,
		Hostname:  companion.Hostname,
		Port:      companion.Port,
		StartTime: companion.StartTime,
		state:     StateRunning,
		proc:      companion.Process,
		output:    NewOutputStream(m.tailLines),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.companions[udid] = cp
	m.mu.Unlock()

	go m.streamOutput(cp)
	go m.monitor(cp)

	return cp, nil
}

// Get returns the managed companion for udid, if any
func (m *Manager) Get(udid string) *CompanionProc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.companions[udid]
}

// Stop gracefully terminates a managed companion: SIGTERM, bounded wait,
// then SIGKILL. Stopping a companion that already exited is a no-op.
func (m *Manager) Stop(udid string) error {
	cp := m.Get(udid)
	if cp == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, udid)
	}

	cp.mu.Lock()
	if cp.state != StateRunning {
		cp.mu.Unlock()
		return nil
	}
	cp.state = StateStopped
	pid := cp.Pid
	cp.mu.Unlock()

	slog.Info("Stopping companion", "udid", udid, "pid", pid)
	if err := cp.proc.Signal(unix.SIGTERM); err != nil {
		slog.Debug("Failed to signal companion", "udid", udid, "pid", pid, "error", err)
	}

	select {
	case <-cp.done:
		slog.Debug("Companion stopped gracefully", "udid", udid, "pid", pid)
	case <-time.After(m.terminateTimeout):
		slog.Warn("Companion did not stop gracefully, force killing", "udid", udid, "pid", pid)
		cp.proc.Kill()
		<-cp.done
	}

	return nil
}

// StopAll terminates every managed companion
func (m *Manager) StopAll() {
	m.mu.RLock()
	udids := make([]string, 0, len(m.companions))
	for udid := range m.companions {
		udids = append(udids, udid)
	}
	m.mu.RUnlock()

	for _, udid := range udids {
		if err := m.Stop(udid); err != nil {
			slog.Debug("Failed to stop companion", "udid", udid, "error", err)
		}
	}
}

// streamOutput reads the companion's stdout after the handshake and
// publishes it line by line. The spawner consumed exactly the handshake
// line, so everything from here on is regular output. ReadString rather
// than a Scanner so lines of any length get through.
func (m *Manager) streamOutput(cp *CompanionProc) {
	reader := bufio.NewReader(cp.proc.Stdout())
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			cp.output.Publish(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("Companion output read failed", "udid", cp.Udid, "error", err)
			}
			return
		}
	}
}

// monitor waits for the companion to exit and records how it went
func (m *Manager) monitor(cp *CompanionProc) {
	err := cp.proc.Wait()
	defer close(cp.done)

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.state == StateStopped {
		// We stopped it intentionally
		return
	}
	cp.state = StateExited

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			cp.exitCode = &code
		}
		cp.exitError = err.Error()
		slog.Warn("Companion exited with error", "udid", cp.Udid, "pid", cp.Pid, "error", err)
		return
	}

	exitCode := 0
	cp.exitCode = &exitCode
	slog.Info("Companion exited normally", "udid", cp.Udid, "pid", cp.Pid)
}
