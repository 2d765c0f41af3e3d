package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

const stopGrace = 5 * time.Second

// execProcess wraps a real child process.
type execProcess struct {
	cmd *exec.Cmd
}

// ExecSpawn starts a sibling binary as a child process. The binary is looked
// up next to the running executable first, then on PATH. The child inherits
// the environment and streams.
func ExecSpawn(name string, args ...string) (Process, error) {
	path, err := findExecutable(name)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return &execProcess{cmd: cmd}, nil
}

// Wait blocks for exit and returns the exit code; a signal death reports -1.
func (p *execProcess) Wait() int {
	err := p.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// Stop sends SIGTERM, escalating to SIGKILL if the child lingers past the
// grace period.
func (p *execProcess) Stop() {
	if p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return
	}
	go func(proc *os.Process) {
		time.Sleep(stopGrace)
		proc.Kill()
	}(p.cmd.Process)
}

// findExecutable resolves a child binary: same directory as the running
// executable first, then PATH.
func findExecutable(name string) (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), name)
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("executable %s not found next to %s or on PATH", name, os.Args[0])
}
