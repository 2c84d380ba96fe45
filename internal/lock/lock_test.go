package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesPIDRecord(t *testing.T) {
	dataDir := t.TempDir()

	l, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dataDir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid=") {
		t.Errorf("lock file %q does not record the owning pid", data)
	}
	if got := parsePID(string(data)); got != os.Getpid() {
		t.Errorf("recorded pid = %d, want %d", got, os.Getpid())
	}
}

func TestSecondDaemonIsRefusedWithOwnerPID(t *testing.T) {
	dataDir := t.TempDir()

	l1, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dataDir)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %T %v, want LockHeldError", err, err)
	}
	// The refusal names the holder so the user can find the running daemon.
	if held.PID != os.Getpid() {
		t.Errorf("held.PID = %d, want %d", held.PID, os.Getpid())
	}
	if held.Path != filepath.Join(dataDir, "LOCK") {
		t.Errorf("held.Path = %q, want the data dir lock file", held.Path)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dataDir := t.TempDir()

	l1, err := Acquire(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	// The lock file is removed on release, so a restarted daemon starts clean.
	if _, err := os.Stat(filepath.Join(dataDir, "LOCK")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present after release: %v", err)
	}

	l2, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("re-Acquire() after release error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseIsNilSafeAndIdempotent(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
