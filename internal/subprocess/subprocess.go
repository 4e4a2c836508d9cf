// Package subprocess supervises child processes: early-exit detection, a bounded stderr tail,
// and graceful stop with a forced kill after a grace period.
package subprocess

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"ollama2api/internal/core"
)

// Managed is a started child process.
type Managed struct {
	cmd      *exec.Cmd
	stderr   *TailBuffer
	stdout   *io.PipeReader
	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

// Start launches cmd. With captureStdout the child's stdout is readable from Stdout and must be
// drained by the caller, otherwise the child blocks on write.
func Start(cmd *exec.Cmd, captureStdout bool) (*Managed, error) {
	m := &Managed{
		cmd:    cmd,
		stderr: NewTailBuffer(core.MaxStderrTailSize),
		done:   make(chan struct{}),
	}
	if cmd.Stderr == nil {
		cmd.Stderr = m.stderr
	}
	// Grandchildren can hold the output pipes open after the child dies.
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = core.ProcessStopGracePeriod
	}

	var pw *io.PipeWriter
	if captureStdout {
		m.stdout, pw = io.Pipe()
		cmd.Stdout = pw
	}

	if err := cmd.Start(); err != nil {
		if pw != nil {
			_ = pw.Close()
		}
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	go func() {
		m.waitErr = cmd.Wait()
		if pw != nil {
			_ = pw.Close()
		}
		close(m.done)
	}()
	return m, nil
}

// Pid returns the child's process id.
func (m *Managed) Pid() int { return m.cmd.Process.Pid }

// Done is closed when the child exits.
func (m *Managed) Done() <-chan struct{} { return m.done }

// ExitErr is the Wait result. Valid after Done is closed.
func (m *Managed) ExitErr() error { return m.waitErr }

// Exited reports whether the child has already exited.
func (m *Managed) Exited() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Stdout returns the captured stdout, or nil when not captured.
func (m *Managed) Stdout() io.Reader {
	if m.stdout == nil {
		return nil
	}
	return m.stdout
}

// StderrTail returns the last bytes written to stderr.
func (m *Managed) StderrTail() string { return m.stderr.String() }

// Stop sends SIGTERM and kills the child if it is still alive after grace. Idempotent.
func (m *Managed) Stop(grace time.Duration) error {
	m.stopOnce.Do(func() {
		if m.Exited() {
			return
		}
		if err := m.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = m.cmd.Process.Kill()
		}
		select {
		case <-m.done:
		case <-time.After(grace):
			if err := m.cmd.Process.Kill(); err != nil && !m.Exited() {
				m.stopErr = fmt.Errorf("kill pid %d: %w", m.Pid(), err)
			}
			<-m.done
		}
	})
	return m.stopErr
}

// TailBuffer keeps the last max bytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTailBuffer creates a TailBuffer holding at most max bytes.
func NewTailBuffer(max int) *TailBuffer {
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
