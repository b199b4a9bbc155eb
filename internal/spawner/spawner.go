package spawner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Handshake is the single JSON line a companion writes to its standard
// output once it has bound its gRPC port.
type Handshake struct {
	Hostname string `json:"hostname"`
	GRPCPort *int   `json:"grpc_port"`
}

// PidRecorder persists companion process ids so a separate process
// management facility can discover and terminate them later.
type PidRecorder interface {
	Record(ctx context.Context, udid string, pid int) error
}

// LogPathFunc maps a device udid to the companion's stderr log file path
type LogPathFunc func(udid string) string

// LogOpenFunc opens a log file for writing
type LogOpenFunc func(path string) (io.WriteCloser, error)

// Companion describes a successfully spawned companion process
type Companion struct {
	Udid      string
	Pid       int
	Hostname  string
	Port      int
	LogPath   string
	StartTime time.Time
	Process   Process
}

// CompanionSpawner launches a companion executable for a device, waits
// for its handshake and records its pid.
type CompanionSpawner struct {
	companionPath    string
	launcher         Launcher
	pids             PidRecorder
	logPath          LogPathFunc
	openLog          LogOpenFunc
	handshakeTimeout time.Duration
}

// NewCompanionSpawner creates a spawner for the companion executable at
// companionPath, recording pids to the given recorder. The launcher, log
// path policy, log opener and handshake timeout have working defaults
// and can be overridden with the Set methods.
func NewCompanionSpawner(companionPath string, pids PidRecorder) *CompanionSpawner {
	return &CompanionSpawner{
		companionPath: companionPath,
		launcher:      ExecLauncher{},
		pids:          pids,
		logPath: func(udid string) string {
			return fmt.Sprintf("companion-%s.log", udid)
		},
		openLog: func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		},
	}
}

// SetLauncher overrides how child processes are created
func (s *CompanionSpawner) SetLauncher(l Launcher) {
	s.launcher = l
}

// SetLogPathPolicy overrides the udid to log file path mapping
func (s *CompanionSpawner) SetLogPathPolicy(f LogPathFunc) {
	s.logPath = f
}

// SetLogOpener overrides how log files are opened
func (s *CompanionSpawner) SetLogOpener(f LogOpenFunc) {
	s.openLog = f
}

// SetHandshakeTimeout bounds the wait for the handshake line. Zero means
// wait forever (subject to context cancellation).
func (s *CompanionSpawner) SetHandshakeTimeout(d time.Duration) {
	s.handshakeTimeout = d
}

// SpawnCompanion launches a companion for udid and returns the gRPC port
// it reports in its handshake.
func (s *CompanionSpawner) SpawnCompanion(ctx context.Context, udid string) (int, error) {
	companion, err := s.Spawn(ctx, udid)
	if err != nil {
		return 0, err
	}
	return companion.Port, nil
}

// Spawn launches a companion for udid, waits for its handshake and
// returns the live process handle along with the reported hostname and
// port. The companion's stderr goes to a log file; the log file handle is
// closed before Spawn returns, on every path.
//
// The pid is recorded after the process is confirmed launched and before
// the handshake read begins, so a crash during the wait still leaves a
// discoverable pid record.
func (s *CompanionSpawner) Spawn(ctx context.Context, udid string) (*Companion, error) {
	if udid == "" {
		return nil, &SpawnError{Udid: udid, Err: errors.New("udid must not be empty")}
	}

	logPath := s.logPath(udid)
	logFile, err := s.openLog(logPath)
	if err != nil {
		return nil, &SpawnError{Udid: udid, Err: fmt.Errorf("failed to open log file: %w", err)}
	}
	defer logFile.Close()

	args := []string{"--udid", udid, "--grpc-port", "0"}
	slog.Debug("Launching companion",
		"udid", udid,
		"path", s.companionPath,
		"log", logPath)

	proc, err := s.launcher.Launch(ctx, s.companionPath, args, logFile)
	if err != nil {
		return nil, &SpawnError{Udid: udid, Err: err}
	}
	startTime := time.Now()

	if err := s.pids.Record(ctx, udid, proc.Pid()); err != nil {
		proc.Kill()
		return nil, &SpawnError{Udid: udid, Err: fmt.Errorf("failed to record pid: %w", err)}
	}

	// The handshake reader may buffer output the companion wrote right
	// after the handshake line. Keep it as the process's stdout so that
	// output isn't lost to whoever streams it next.
	stdout := bufio.NewReader(proc.Stdout())

	handshake, err := s.readHandshake(ctx, udid, stdout)
	if err != nil {
		// The process may still be running but is useless without a
		// handshake, so don't leave it behind.
		proc.Kill()
		return nil, err
	}

	slog.Info("Companion ready",
		"udid", udid,
		"pid", proc.Pid(),
		"hostname", handshake.Hostname,
		"port", *handshake.GRPCPort)

	return &Companion{
		Udid:      udid,
		Pid:       proc.Pid(),
		Hostname:  handshake.Hostname,
		Port:      *handshake.GRPCPort,
		LogPath:   logPath,
		StartTime: startTime,
		Process:   &bufferedProcess{Process: proc, stdout: stdout},
	}, nil
}

// bufferedProcess substitutes the stdout reader used for the handshake,
// preserving any bytes it read ahead of the handshake line.
type bufferedProcess struct {
	Process
	stdout io.Reader
}

func (p *bufferedProcess) Stdout() io.Reader { return p.stdout }

// readHandshake reads exactly one line from the companion's stdout and
// parses it. The read runs in its own goroutine so cancellation and the
// timeout can interrupt the wait.
func (s *CompanionSpawner) readHandshake(ctx context.Context, udid string, stdout *bufio.Reader) (*Handshake, error) {
	type readResult struct {
		line string
		err  error
	}

	resultChan := make(chan readResult, 1)
	go func() {
		line, err := stdout.ReadString('\n')
		resultChan <- readResult{line: line, err: err}
	}()

	var timeoutChan <-chan time.Time
	if s.handshakeTimeout > 0 {
		timer := time.NewTimer(s.handshakeTimeout)
		defer timer.Stop()
		timeoutChan = timer.C
	}

	select {
	case res := <-resultChan:
		// A final line without a trailing newline still counts as a
		// handshake attempt.
		if res.err != nil && res.line == "" {
			return nil, &HandshakeError{Udid: udid, Reason: "no handshake received", Err: res.err}
		}
		return parseHandshake(udid, res.line)
	case <-timeoutChan:
		return nil, &HandshakeError{Udid: udid,
			Reason: fmt.Sprintf("timed out after %v waiting for handshake", s.handshakeTimeout)}
	case <-ctx.Done():
		return nil, &HandshakeError{Udid: udid, Reason: "cancelled waiting for handshake", Err: ctx.Err()}
	}
}

// parseHandshake decodes a handshake line and verifies it carries a port
func parseHandshake(udid, line string) (*Handshake, error) {
	var handshake Handshake
	if err := json.Unmarshal([]byte(line), &handshake); err != nil {
		return nil, &HandshakeError{Udid: udid, Reason: "malformed handshake", Err: err}
	}
	if handshake.GRPCPort == nil {
		return nil, &HandshakeError{Udid: udid, Reason: "handshake missing grpc_port"}
	}
	return &handshake, nil
}
