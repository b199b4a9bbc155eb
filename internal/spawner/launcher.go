package spawner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Process is a handle to a launched companion process.
type Process interface {
	// Pid returns the OS process id
	Pid() int
	// Stdout is the read side of the child's standard output pipe.
	// There must be exactly one reader at a time.
	Stdout() io.Reader
	// Stdin is the write side of the child's standard input pipe
	Stdin() io.WriteCloser
	// Signal delivers a signal to the process (and its group where possible)
	Signal(sig os.Signal) error
	// Kill forcibly terminates the process
	Kill() error
	// Wait blocks until the process exits. Call at most once.
	Wait() error
}

// Launcher creates companion processes. It exists so spawn logic can be
// tested without a real child process.
type Launcher interface {
	// Launch starts path with args, with stdout and stdin as pipes and
	// stderr directed to the given writer.
	Launch(ctx context.Context, path string, args []string, stderr io.Writer) (Process, error)
}

// ExecLauncher launches real OS processes via os/exec
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, path string, args []string, stderr io.Writer) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	// Run the companion in its own session so it survives the spawning
	// process exiting. Companions are long-lived servers, not children
	// tied to our lifetime.
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stdin: stdin}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }

// Signal sends sig to the process group (negative pid) so helpers forked
// by the companion receive it too, falling back to the process itself.
func (p *execProcess) Signal(sig os.Signal) error {
	if s, ok := sig.(unix.Signal); ok {
		if err := unix.Kill(-p.cmd.Process.Pid, s); err == nil {
			return nil
		}
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	if err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); err == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }
