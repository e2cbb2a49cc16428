package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPIDFile(t *testing.T) *PIDFile {
	t.Helper()
	return NewPIDFile(filepath.Join(t.TempDir(), "codereview-serve.pid"))
}

func TestPIDFile_WriteAndRead(t *testing.T) {
	pf := newPIDFile(t)

	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	pf := newPIDFile(t)

	for _, content := range []string{"not-a-number\n", "0\n", "-4\n", ""} {
		require.NoError(t, os.WriteFile(pf.Path, []byte(content), 0o644))
		_, err := pf.Read()
		require.Error(t, err, "content %q", content)
		assert.Contains(t, err.Error(), "invalid PID file content")
	}
}

func TestPIDFile_Read_MissingFile(t *testing.T) {
	_, err := newPIDFile(t).Read()
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_IsRunning(t *testing.T) {
	pf := newPIDFile(t)

	pid, running := pf.IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running, "no file")

	require.NoError(t, pf.Write())
	pid, running = pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	// A very high PID that almost certainly doesn't exist.
	require.NoError(t, pf.WritePID(999999))
	pid, running = pf.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)
}

func TestPIDFile_Acquire(t *testing.T) {
	pf := newPIDFile(t)

	require.NoError(t, pf.Acquire(os.Getpid()))

	err := pf.Acquire(42)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// Stale file from a dead server is taken over.
	require.NoError(t, pf.WritePID(999999))
	require.NoError(t, pf.Acquire(os.Getpid()))
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Stop_NotRunning(t *testing.T) {
	pf := newPIDFile(t)
	assert.ErrorIs(t, pf.Stop(os.Interrupt, os.Kill, time.Second), ErrNotRunning)

	require.NoError(t, pf.WritePID(999999))
	assert.ErrorIs(t, pf.Stop(os.Interrupt, os.Kill, time.Second), ErrNotRunning)
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err), "stale file removed")
}

func TestPIDFile_Stop_TerminatesProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no sleep binary or SIGTERM on windows")
	}
	child := exec.Command("sleep", "30")
	require.NoError(t, child.Start())
	done := make(chan struct{})
	go func() {
		_ = child.Wait()
		close(done)
	}()

	pf := newPIDFile(t)
	require.NoError(t, pf.WritePID(child.Process.Pid))

	require.NoError(t, pf.Stop(syscall.SIGTERM, syscall.SIGKILL, 5*time.Second))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_Signal_NoFile(t *testing.T) {
	err := newPIDFile(t).Signal(syscall.Signal(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read PID file")
}
