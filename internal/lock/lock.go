// Package lock serializes access to the switcher hardware across
// processes with named, file-backed exclusive locks.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// Well known resource locks.
const (
	TargetInteraction = "target_interaction"
	USBAccess         = "usb_access"

	extension = ".lock"
)

// DefaultDir returns the default parent directory for all lock files.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "krake")
}

// Lock is an exclusive, process-external lock on a named resource.
// A shared instance also excludes goroutines within the process: flock
// locks are per file description, so the flock alone would wave a second
// in-process holder straight through.
type Lock struct {
	name string
	fl   *flock.Flock
	mu   sync.Mutex

	logger *log.Entry
}

// New prepares the lock file for a named resource. The parent directory
// is created world-writable so every operator account can take the lock.
func New(name, dir string) (*Lock, error) {
	if dir == "" {
		dir = DefaultDir()
	}

	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("lock directory %s: %w", dir, err)
	}

	// Not fatal: the directory may predate us with another owner.
	if err := os.Chmod(dir, 0o777); err != nil {
		log.WithError(err).Debugf("Lock directory %s permissions left as-is", dir)
	}

	path := filepath.Join(dir, name+extension)

	return &Lock{
		name:   name,
		fl:     flock.New(path),
		logger: log.WithFields(log.Fields{"lock": name, "path": path}),
	}, nil
}

// Acquire blocks until the lock is held. There is deliberately no
// timeout: a held lock means another invocation is legitimately driving
// the hardware. If the first attempt finds the lock taken, a one-time
// notice tells the operator what is being waited on.
func (l *Lock) Acquire() error {
	l.mu.Lock()

	locked, err := l.fl.TryLock()
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("lock %s: %w", l.name, err)
	}

	if locked {
		return nil
	}

	l.logger.Infof("Another instance is already using the %s resource, waiting for the lock to get released..", l.name)

	if err := l.fl.Lock(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("lock %s: %w", l.name, err)
	}

	return nil
}

// Release drops the lock. Every successful Acquire must be paired with
// exactly one Release.
func (l *Lock) Release() error {
	defer l.mu.Unlock()

	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.name, err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.fl.Path() }
