// Package daemon tracks a background server process through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when a live process owns the file.
var ErrAlreadyRunning = errors.New("already running")

// ErrNotRunning is returned by Stop when no live process owns the file.
var ErrNotRunning = errors.New("not running")

// PIDFile records the PID of a detached server.
type PIDFile struct {
	Path string
}

// NewPIDFile returns a PIDFile at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file content %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Remove deletes the file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Acquire records pid unless a live process already owns the file. A stale
// file left by a crashed server is replaced.
func (p *PIDFile) Acquire(pid int) error {
	if running, ok := p.IsRunning(); ok {
		return fmt.Errorf("pid %d: %w", running, ErrAlreadyRunning)
	}
	return p.WritePID(pid)
}

// Stop sends term to the recorded process and waits up to timeout for it to
// exit, then sends kill. The file is removed once the process is gone.
func (p *PIDFile) Stop(term, kill os.Signal, timeout time.Duration) error {
	pid, ok := p.IsRunning()
	if !ok {
		if pid != 0 {
			_ = p.Remove()
		}
		return ErrNotRunning
	}
	if err := p.Signal(term); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, alive := p.IsRunning(); !alive {
			_ = p.Remove()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := p.Signal(kill); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	_ = p.Remove()
	return nil
}
