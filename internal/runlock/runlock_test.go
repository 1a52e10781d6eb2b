package runlock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSecondHolderIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "conformity.lock")

	first := New(path)
	if err := first.TryAcquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second := New(path)
	if err := second.TryAcquire(); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire = %v, want ErrHeld", err)
	}

	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	if err := second.TryAcquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release()
}

func TestWith(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conformity.lock")
	ran := false
	err := With(path, func() error {
		ran = true
		if err := With(path, func() error { return nil }); !errors.Is(err, ErrHeld) {
			t.Errorf("nested With = %v, want ErrHeld", err)
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("With: ran=%v err=%v", ran, err)
	}
}
