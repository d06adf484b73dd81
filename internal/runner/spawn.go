package runner

import (
	"errors"
	"io"
	"os/exec"
)

// Spawner starts a command line with stdout and stderr sent to out.
type Spawner interface {
	Spawn(command string, out io.Writer) (Handle, error)
}

// Handle is a started process.
type Handle interface {
	PID() int
	// Wait blocks until the process exits and returns its exit code. A
	// process killed by a signal reports -1.
	Wait() (int, error)
}

// ShellSpawner runs command lines through the platform shell in their own
// process group.
type ShellSpawner struct{}

// Spawn implements Spawner.
func (ShellSpawner) Spawn(command string, out io.Writer) (Handle, error) {
	cmd := shellCommand(command)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Stdin = nil
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdHandle{cmd: cmd}, nil
}

type cmdHandle struct {
	cmd *exec.Cmd
}

func (h *cmdHandle) PID() int { return h.cmd.Process.Pid }

func (h *cmdHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
