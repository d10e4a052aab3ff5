package node

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// Dashboard starts and stops the training dashboard of a chief node.
type Dashboard interface {
	// Start launches a dashboard over logDir listening on port and returns its process id.
	Start(logDir string, port int) (int, error)

	// Stop terminates the dashboard with the given process id.
	Stop(pid int) error
}

// ProcessDashboard runs the dashboard as a child process.
type ProcessDashboard struct {
	// Command is the dashboard executable. Defaults to "tensorboard".
	Command string
}

func (d *ProcessDashboard) command() string {
	if d.Command == "" {
		return "tensorboard"
	}
	return d.Command
}

func (d *ProcessDashboard) Start(logDir string, port int) (int, error) {
	path, err := exec.LookPath(d.command())
	if err != nil {
		return 0, errors.Wrapf(err, "dashboard executable \"%s\" not found", d.command())
	}

	cmd := exec.Command(path, fmt.Sprintf("--logdir=%s", logDir), fmt.Sprintf("--port=%d", port), "--host=0.0.0.0")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err = cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "failed to start dashboard")
	}

	// Reap the process when it exits so that it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return cmd.Process.Pid, nil
}

func (d *ProcessDashboard) Stop(pid int) error {
	if pid <= 0 {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err = proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}
