// Package lockfile keeps two CartPipe instances from sweeping the same state
// directory. The lock is an flock on a file in that directory, so the kernel
// drops it when the process exits, cleanly or not.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileName is the lock file created in the state directory.
const FileName = "cartpipe.lock"

// ErrLocked is wrapped by LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another CartPipe instance")

// Owner is written to the lock file to identify the holder.
type Owner struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory when
// needed. It fails immediately with a *LockError if another process holds it.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, FileName)

	// O_TRUNC would wipe the owner info of a live holder, so truncate only after locking.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner, _ := ReadOwner(path)
		slog.Error("Lockfile.Acquire: state directory in use", "path", path, "owner", owner)
		return nil, &LockError{Path: path, Owner: owner, Cause: err}
	}

	host, _ := os.Hostname()
	owner := Owner{PID: os.Getpid(), Hostname: host, StartedAt: time.Now().UTC()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("Lockfile.Acquire: lock acquired", "path", path, "pid", owner.PID)
	return &Lock{file: file, path: path}, nil
}

func writeOwner(f *os.File, owner Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(append(data, '\n'), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile: sync failed", "error", err, "path", f.Name())
	}
	return nil
}

// ReadOwner returns the owner recorded in a lock file, nil when it cannot be read.
func ReadOwner(path string) (*Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("decode lock file %s: %w", path, err)
	}
	return &owner, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	// Remove while still holding the lock so a new holder never loses its file.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	slog.Info("Lockfile.Release: lock released", "path", l.path)
	return errors.Join(errs...)
}

// LockError reports a lock held by another process.
type LockError struct {
	Path  string
	Owner *Owner
	Cause error
}

func (e *LockError) Error() string {
	msg := "another CartPipe instance is using this state directory (lock file " + e.Path + ")"
	if e.Owner != nil {
		state := "not running, stale lock"
		if ProcessRunning(e.Owner.PID) {
			state = "running"
		}
		msg += fmt.Sprintf("; held by pid %d on %q since %s (%s)",
			e.Owner.PID, e.Owner.Hostname, e.Owner.StartedAt.Format(time.RFC3339), state)
	}
	return msg + "; remove the lock file only if no other instance is running"
}

func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// ProcessRunning reports whether a local process with pid exists.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
