package runlock_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cvt2bids/internal/runlock"
	"cvt2bids/internal/services"
)

func TestAcquireIsExclusive(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "bids", "participants.tsv")

	first, err := runlock.Acquire(registry)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.Path() != registry+".lock" {
		t.Fatalf("unexpected lock path %q", first.Path())
	}

	_, err = runlock.Acquire(registry)
	if !errors.Is(err, runlock.ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// The file outlives the lock so every contender locks the same inode.
	if _, err := os.Stat(first.Path()); err != nil {
		t.Fatalf("expected lock file kept after release, got %v", err)
	}

	second, err := runlock.Acquire(registry)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestReleaseNil(t *testing.T) {
	var lock *runlock.Lock
	if err := lock.Release(); err != nil {
		t.Fatalf("expected nil release to succeed, got %v", err)
	}
}
