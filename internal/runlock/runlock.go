// Package runlock keeps two batch runs from overlapping in one deployment.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrHeld = errors.New("another batch run holds the lock")

type Lock struct {
	fl *flock.Flock
}

func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

func (l *Lock) Path() string { return l.fl.Path() }

// TryAcquire takes the lock without blocking. It returns ErrHeld when another
// process, or another Lock on the same path, already has it.
func (l *Lock) TryAcquire() error {
	if dir := filepath.Dir(l.fl.Path()); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// With runs fn while holding the lock at path.
func With(path string, fn func() error) error {
	l := New(path)
	if err := l.TryAcquire(); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}
