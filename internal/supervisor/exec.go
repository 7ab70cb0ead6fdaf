package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// WorkerIDEnv carries the slot number to spawned workers; its presence marks
// the process as a worker rather than the supervisor.
const WorkerIDEnv = "CRAWLGUARD_WORKER_ID"

// ExecSpawner re-executes the current binary as a worker process. Workers
// inherit the parent's environment plus the worker-id marker, and share its
// stdout and stderr so their logs interleave on the same streams.
type ExecSpawner struct {
	// Args are extra command-line arguments passed to the worker.
	Args []string
}

// Spawn starts one worker. The command deliberately does not use
// exec.CommandContext: the supervisor delivers SIGTERM itself on shutdown so
// workers can drain instead of being killed.
func (sp *ExecSpawner) Spawn(_ context.Context, workerID int) (Process, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(bin, sp.Args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", WorkerIDEnv, workerID))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", workerID, err)
	}
	return &osProcess{cmd: cmd}, nil
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signal: ws.Signal().String()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	// Wait itself failed; treat as an errored exit.
	return ExitStatus{Code: -1}
}

func (p *osProcess) Signal(sig string) error {
	var s os.Signal
	switch sig {
	case "SIGKILL":
		s = syscall.SIGKILL
	case "SIGINT":
		s = syscall.SIGINT
	default:
		s = syscall.SIGTERM
	}
	if err := p.cmd.Process.Signal(s); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal worker pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}
