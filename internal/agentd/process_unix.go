//go:build unix

package agentd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

var unixSignals = map[Signal]syscall.Signal{
	SignalBegin:    syscall.SIGUSR1,
	SignalSnapshot: syscall.SIGUSR2,
	SignalStop:     syscall.SIGINT,
	SignalKill:     syscall.SIGKILL,
}

// OSProcesses runs the benchmark binary as a detached session leader so it
// outlives the agent invocation that started it.
type OSProcesses struct{}

func NewOSProcesses() Processes {
	return OSProcesses{}
}

func (OSProcesses) Start(req LaunchRequest) (int, error) {
	stdout, err := os.Create(filepath.Join(req.LogDir, req.Host+".out.log"))
	if err != nil {
		return 0, fmt.Errorf("failed to create stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(req.LogDir, req.Host+".err.log"))
	if err != nil {
		return 0, fmt.Errorf("failed to create stderr log: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(req.Spec.Binary, req.Args()...)
	cmd.Dir = req.LogDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "BENCH_ROLE="+string(req.Spec.Role))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", req.Spec.Binary, err)
	}
	pid := cmd.Process.Pid
	// Reap the child if this agent is long-lived (daemon mode).
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (OSProcesses) Signal(pid int, sig Signal) error {
	s, ok := unixSignals[sig]
	if !ok {
		return fmt.Errorf("unsupported signal %s", sig)
	}
	err := syscall.Kill(pid, s)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

func (OSProcesses) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
