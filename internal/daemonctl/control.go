// Package daemonctl inspects and signals a running ctscribe daemon through
// its lock and pid files.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"ctscribe/internal/config"
)

// ErrNotRunning reports that no daemon holds the lock.
var ErrNotRunning = errors.New("ctscribe daemon is not running")

// ProcessInfo reports whether a daemon holds the lock and, when known, its pid.
func ProcessInfo(cfg *config.Config) (bool, int, error) {
	if cfg == nil {
		return false, 0, errors.New("config is required")
	}
	running, err := lockHeld(cfg.LockPath())
	if err != nil || !running {
		return false, 0, err
	}
	pid, err := ReadPID(cfg.PIDPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, 0, err
	}
	return true, pid, nil
}

// ReadPID parses the daemon pid file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

// Stop sends SIGTERM to the daemon and waits for it to release the lock.
func Stop(cfg *config.Config, timeout time.Duration) error {
	running, pid, err := ProcessInfo(cfg)
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}
	if pid == 0 {
		return errors.New("daemon holds the lock but has no pid file")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon (pid %d): %w", pid, err)
	}
	return WaitForShutdown(cfg.LockPath(), timeout)
}

// WaitForShutdown polls until the daemon lock is free.
func WaitForShutdown(lockPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		held, err := lockHeld(lockPath)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon did not stop within %s", timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func lockHeld(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}
