// Package procmutex provides a process-wide, host-wide single-instance lock
// for the drive system, rooted in the user's home directory so the same
// lock file governs every invocation regardless of working directory.
//
// It mirrors drivesystemlock.get_serial_port_lock: one lock file under
// $HOME, acquired non-blocking with a short timeout, released on Release.
package procmutex

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const lockFileName = ".isolde-drivesystem.lock"

// DefaultTimeout is how long Acquire will retry a held lock before giving
// up, matching drivesystemlock's FileLock(timeout=1).
const DefaultTimeout = 1 * time.Second

// Lock is a held process lock. The zero value is not usable; obtain one
// with Acquire.
type Lock struct {
	file *os.File
	path string
}

// Path returns the path of the lock file on disk.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and closes the underlying file. Safe to call once;
// a Lock is not reusable after Release.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("procmutex: unlock: %w", err)
	}
	return cerr
}

// DefaultPath returns $HOME/.isolde-drivesystem.lock.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("procmutex: resolve home directory: %w", err)
	}
	return filepath.Join(home, lockFileName), nil
}

// Acquire takes the process lock at path, retrying a held lock until
// timeout elapses. On success it writes the holder's PID and hostname into
// the lock file, so the error a rejected caller gets names who holds it.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("procmutex: open lock file %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			holder := readHolder(f)
			f.Close()
			return nil, fmt.Errorf("procmutex: lock %s held by %s: %w", path, holder, err)
		}
		time.Sleep(backoff)
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("procmutex: truncate lock file: %w", err)
	}
	hostname, _ := os.Hostname()
	if _, err := f.WriteAt([]byte(fmt.Sprintf("pid=%d host=%s\n", os.Getpid(), hostname)), 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("procmutex: write holder record: %w", err)
	}

	return &Lock{file: f, path: path}, nil
}

func readHolder(f *os.File) string {
	buf := make([]byte, 128)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return "unknown"
	}
	return string(buf[:n])
}
