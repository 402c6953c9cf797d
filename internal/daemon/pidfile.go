// Package daemon tracks server process state on disk: a PID file for
// single-instance enforcement and a crash log for post-mortem inspection.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/switchboard/internal/config"
)

// PIDFilePath returns the PID file location under the given home.
func PIDFilePath(home string) string {
	return filepath.Join(home, config.ServerDirName, config.ServerPIDFilename)
}

// CrashLogPath returns the crash log location under the given home.
func CrashLogPath(home string) string {
	return filepath.Join(home, config.ServerDirName, config.CrashLogFilename)
}

// WritePIDFile records the current process id. It refuses to overwrite a
// PID file whose process is still alive.
func WritePIDFile(home string) error {
	path := PIDFilePath(home)
	if pid, err := ReadPIDFile(home); err == nil && ProcessAlive(pid) && pid != os.Getpid() {
		return fmt.Errorf("server already running with pid %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create server dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the recorded process id.
func ReadPIDFile(home string) (int, error) {
	data, err := os.ReadFile(PIDFilePath(home))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file: %w", err)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file. Missing files are not an error.
func RemovePIDFile(home string) error {
	err := os.Remove(PIDFilePath(home))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ProcessAlive reports whether a process with the given pid exists, using
// a zero signal so nothing is delivered.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

// Status summarizes the on-disk server state.
type Status struct {
	PID     int  `json:"pid,omitempty"`
	Running bool `json:"running"`
	Stale   bool `json:"stale"`
}

// CheckStatus reads the PID file and probes liveness. A PID file whose
// process is gone reports Stale.
func CheckStatus(home string) Status {
	pid, err := ReadPIDFile(home)
	if err != nil {
		return Status{}
	}
	if ProcessAlive(pid) {
		return Status{PID: pid, Running: true}
	}
	return Status{PID: pid, Stale: true}
}

// AppendCrashLog records a fatal server error with a timestamp.
func AppendCrashLog(home string, cause error) error {
	path := CrashLogPath(home)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s pid=%d %v\n", time.Now().UTC().Format(time.RFC3339), os.Getpid(), cause)
	return err
}
