package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Spec describes a child process to launch.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Process is a supervised child process handle.
type Process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Start launches the process with stdout/stderr attached to the parent so
// child output lands directly in the container log stream.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	p := &Process{name: spec.Name, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	log.Info().Str("process", spec.Name).Int("pid", cmd.Process.Pid).Msg("Process started")
	return p, nil
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has already exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or the context is canceled and returns
// the process exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
	}
	return p.ExitCode(), nil
}

// ExitCode returns the exit code of an exited process. A process killed by a
// signal or failing before exec reports 1, matching shell behavior closely
// enough for container exit status propagation.
func (p *Process) ExitCode() int {
	if !p.Exited() {
		return -1
	}
	if p.err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}

// Stop terminates the process: SIGTERM first, then SIGKILL after the grace
// period. Stopping an already-exited process is a no-op.
func (p *Process) Stop(grace time.Duration) {
	if p.Exited() {
		return
	}
	log.Info().Str("process", p.name).Msg("Stopping process")
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	log.Warn().Str("process", p.name).Dur("grace", grace).Msg("Process did not exit, killing")
	_ = p.cmd.Process.Kill()
	<-p.done
}
