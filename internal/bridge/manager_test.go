package bridge

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devbridge-io/devbridge/internal/spawner"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// fakeProc implements spawner.Process for manager tests
type fakeProc struct {
	pid         int
	stdout      io.Reader
	dieOnSignal bool

	exitErr  error
	exited   chan struct{}
	exitOnce sync.Once

	mu     sync.Mutex
	killed bool
}

func newFakeProc(pid int, stdout io.Reader, dieOnSignal bool) *fakeProc {
	return &fakeProc{
		pid:         pid,
		stdout:      stdout,
		dieOnSignal: dieOnSignal,
		exited:      make(chan struct{}),
	}
}

func (p *fakeProc) Pid() int              { return p.pid }
func (p *fakeProc) Stdout() io.Reader     { return p.stdout }
func (p *fakeProc) Stdin() io.WriteCloser { return nopWriteCloser{io.Discard} }

func (p *fakeProc) Signal(sig os.Signal) error {
	if p.dieOnSignal {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("killed"))
	return nil
}

func (p *fakeProc) Wait() error {
	<-p.exited
	return p.exitErr
}

func (p *fakeProc) exit(err error) {
	p.exitOnce.Do(func() {
		p.exitErr = err
		close(p.exited)
	})
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeSpawner hands out a prepared companion
type fakeSpawner struct {
	companion *spawner.Companion
	err       error
	calls     int
}

func (s *fakeSpawner) Spawn(ctx context.Context, udid string) (*spawner.Companion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.companion, nil
}

func testCompanion(proc *fakeProc) *spawner.Companion {
	return &spawner.Companion{
		Udid:      "someUdid",
		Pid:       proc.pid,
		Hostname:  "myHost",
		Port:      1234,
		StartTime: time.Now(),
		Process:   proc,
	}
}

func waitDone(t *testing.T, cp *CompanionProc) {
	t.Helper()
	select {
	case <-cp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for companion to finish")
	}
}

func TestManager_Spawn(t *testing.T) {
	quietLogger(t)
	proc := newFakeProc(4711, strings.NewReader(""), true)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cp.Pid != 4711 || cp.Hostname != "myHost" || cp.Port != 1234 {
		t.Errorf("unexpected companion details: %+v", cp)
	}
	if cp.CurrentState() != StateRunning {
		t.Errorf("expected state running, got %s", cp.CurrentState())
	}
	if m.Get("someUdid") != cp {
		t.Error("expected Get to return the managed companion")
	}
}

func TestManager_SpawnErrorPropagates(t *testing.T) {
	quietLogger(t)
	spawnErr := errors.New("no device")
	m := NewManager(&fakeSpawner{err: spawnErr}, time.Second)

	if _, err := m.Spawn(context.Background(), "someUdid"); !errors.Is(err, spawnErr) {
		t.Errorf("expected spawn error to propagate, got %v", err)
	}
	if m.Get("someUdid") != nil {
		t.Error("expected no companion entry after a failed spawn")
	}
}

func TestManager_SpawnWhileRunning(t *testing.T) {
	quietLogger(t)
	proc := newFakeProc(4711, strings.NewReader(""), true)
	sp := &fakeSpawner{companion: testCompanion(proc)}
	m := NewManager(sp, time.Second)

	if _, err := m.Spawn(context.Background(), "someUdid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := m.Spawn(context.Background(), "someUdid"); err == nil {
		t.Error("expected an error spawning a second companion for the same udid")
	}
	if sp.calls != 1 {
		t.Errorf("expected exactly one spawn, got %d", sp.calls)
	}
}

func TestManager_StreamsOutput(t *testing.T) {
	quietLogger(t)
	stdoutR, stdoutW := io.Pipe()
	proc := newFakeProc(4711, stdoutR, true)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := cp.Output().Subscribe()
	defer cp.Output().Unsubscribe(lines)

	go func() {
		stdoutW.Write([]byte("device connected\nlistening\n"))
		stdoutW.Close()
	}()

	for _, want := range []string{"device connected\n", "listening\n"} {
		select {
		case got := <-lines:
			if got != want {
				t.Errorf("expected %q, got %q", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for output line %q", want)
		}
	}
}

func TestManager_StreamsLongLines(t *testing.T) {
	quietLogger(t)
	// A single output line well past any scanner's default token limit
	long := strings.Repeat("x", 80*1024) + "\n"
	proc := newFakeProc(4711, strings.NewReader(long+"tail\n"), true)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := cp.Output().Subscribe()
	defer cp.Output().Unsubscribe(lines)

	for _, want := range []string{long, "tail\n"} {
		select {
		case got := <-lines:
			if got != want {
				t.Errorf("expected a %d byte line, got %d bytes", len(want), len(got))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for output line")
		}
	}
}

func TestManager_SubscribeAfterOutputReplays(t *testing.T) {
	quietLogger(t)
	proc := newFakeProc(4711, strings.NewReader("early bird\n"), true)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Give the output reader time to drain stdout before anyone subscribes
	deadline := time.Now().Add(2 * time.Second)
	for {
		lines := cp.Output().Subscribe()
		select {
		case got := <-lines:
			cp.Output().Unsubscribe(lines)
			if got != "early bird\n" {
				t.Errorf("expected replayed line, got %q", got)
			}
			return
		case <-time.After(10 * time.Millisecond):
			cp.Output().Unsubscribe(lines)
		}
		if time.Now().After(deadline) {
			t.Fatal("output produced before subscribing was never replayed")
		}
	}
}

func TestManager_MonitorRecordsExit(t *testing.T) {
	quietLogger(t)
	proc := newFakeProc(4711, strings.NewReader(""), false)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	proc.exit(nil)
	waitDone(t, cp)

	if cp.CurrentState() != StateExited {
		t.Errorf("expected state exited, got %s", cp.CurrentState())
	}
	if code := cp.ExitCode(); code == nil || *code != 0 {
		t.Errorf("expected exit code 0, got %v", code)
	}
}

func TestManager_StopGraceful(t *testing.T) {
	quietLogger(t)
	proc := newFakeProc(4711, strings.NewReader(""), true)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := m.Stop("someUdid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cp.CurrentState() != StateStopped {
		t.Errorf("expected state stopped, got %s", cp.CurrentState())
	}
	if proc.wasKilled() {
		t.Error("expected no force kill for a companion that honors SIGTERM")
	}

	// Stopping again is a no-op
	if err := m.Stop("someUdid"); err != nil {
		t.Errorf("expected stopping twice to succeed, got %v", err)
	}
}

func TestManager_StopForceKillsAfterGracePeriod(t *testing.T) {
	quietLogger(t)
	// This companion ignores SIGTERM
	proc := newFakeProc(4711, strings.NewReader(""), false)
	m := NewManager(&fakeSpawner{companion: testCompanion(proc)}, 30*time.Millisecond)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := m.Stop("someUdid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !proc.wasKilled() {
		t.Error("expected a force kill after the grace period")
	}
	if cp.CurrentState() != StateStopped {
		t.Errorf("expected state stopped, got %s", cp.CurrentState())
	}
}

func TestManager_StopUnknownUdid(t *testing.T) {
	quietLogger(t)
	m := NewManager(&fakeSpawner{}, time.Second)

	if err := m.Stop("nope"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestManager_RespawnAfterExit(t *testing.T) {
	quietLogger(t)
	proc := newFakeProc(4711, strings.NewReader(""), false)
	sp := &fakeSpawner{companion: testCompanion(proc)}
	m := NewManager(sp, time.Second)

	cp, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	proc.exit(nil)
	waitDone(t, cp)

	// A fresh process for the respawn
	sp.companion = testCompanion(newFakeProc(4712, strings.NewReader(""), true))
	replacement, err := m.Spawn(context.Background(), "someUdid")
	if err != nil {
		t.Fatalf("expected respawn after exit to succeed, got %v", err)
	}
	if replacement.Pid != 4712 {
		t.Errorf("expected the replacement companion, got pid %d", replacement.Pid)
	}
}

func TestManager_StopAll(t *testing.T) {
	quietLogger(t)
	procA := newFakeProc(1, strings.NewReader(""), true)
	procB := newFakeProc(2, strings.NewReader(""), true)
	sp := &fakeSpawner{companion: testCompanion(procA)}
	m := NewManager(sp, time.Second)

	if _, err := m.Spawn(context.Background(), "someUdid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sp.companion = &spawner.Companion{Udid: "otherUdid", Pid: 2, Process: procB, StartTime: time.Now()}
	if _, err := m.Spawn(context.Background(), "otherUdid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	m.StopAll()

	for _, udid := range []string{"someUdid", "otherUdid"} {
		if state := m.Get(udid).CurrentState(); state != StateStopped {
			t.Errorf("expected %s stopped, got %s", udid, state)
		}
	}
}
