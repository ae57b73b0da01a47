package stock

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
)

// newCommand creates an exec.Cmd in its own process group, so that killing
// the group also terminates any children the command spawns.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	// On cancellation, kill the whole group instead of just the leader
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	return cmd
}

// streamCommand runs cmd and copies its stdout and stderr to out while it
// runs. Both pipes are drained before cmd.Wait so that large outputs cannot
// fill the pipe buffers and deadlock the child.
//
// out must be safe for concurrent writes; an action's output writer is.
func streamCommand(cmd *exec.Cmd, out io.Writer, pm *ProcessManager) error {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(out, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		pump(out, stderrPipe)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// pump copies r to w chunk by chunk, and keeps draining r once w refuses
// writes.
func pump(w io.Writer, r io.Reader) {
	buf := make([]byte, 32*1024)
	writable := true
	for {
		n, err := r.Read(buf)
		if n > 0 && writable {
			if _, werr := w.Write(buf[:n]); werr != nil {
				writable = false
			}
		}
		if err != nil {
			return
		}
	}
}

// killProcessGroup kills the entire process group associated with the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	// Negative PID targets the group
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}

	return nil
}

// ProcessManager tracks the subprocesses started by subprocess actions so
// they can all be terminated on shutdown.
//
// Usage pattern (typically in main):
//
//	pm := stock.NewProcessManager()
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//	go func() {
//		<-ctx.Done()
//		pm.KillAll()
//	}()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess once it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked subprocesses and their groups.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}

	return nil
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
