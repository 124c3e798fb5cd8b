package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"cvt2bids/internal/services"
)

// ErrHeld reports that another process owns the lock.
var ErrHeld = errors.New("registry is locked by another run")

// Lock is an exclusive advisory lock guarding a participants file.
type Lock struct {
	path string
	lock *flock.Flock
}

// PathFor returns the lock file path used for a registry file.
func PathFor(registryPath string) string {
	return registryPath + ".lock"
}

// Acquire takes the lock for registryPath without blocking. The parent
// directory is created when missing.
func Acquire(registryPath string) (*Lock, error) {
	lockPath := PathFor(registryPath)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "runlock", "acquire", lockPath, ErrHeld)
	}
	return &Lock{path: lockPath, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
