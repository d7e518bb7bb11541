package processlock_test

import (
	"sync"
	"testing"
	"time"

	"blaze/internal/processlock"
)

func TestLockedExcludesConcurrentAccess(t *testing.T) {
	l, err := processlock.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	counter := 0
	maxObserved := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Locked(42, nil, func() error {
				mu.Lock()
				counter++
				if counter > maxObserved {
					maxObserved = counter
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				counter--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if maxObserved != 1 {
		t.Fatalf("expected exclusive access (max concurrent = 1), got %d", maxObserved)
	}
}

func TestTryLockFailsWhenHeld(t *testing.T) {
	dir := t.TempDir()
	l, err := processlock.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	held, ok, err := l.TryLock(7)
	if err != nil || !ok {
		t.Fatalf("expected first try-lock to succeed, got ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	l2, err := processlock.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := l2.TryLock(7); err != nil || ok {
		t.Fatalf("expected second try-lock on held id to fail, got ok=%v err=%v", ok, err)
	}
}

func TestDistinctIDsDoNotContend(t *testing.T) {
	l, err := processlock.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h1, err := l.Lock(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h1.Unlock()

	h2, err := l.LockWithTimeout(2, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("expected independent id to lock without contention: %v", err)
	}
	defer h2.Unlock()
}

func TestCleanupStaleUsesWellKnownID(t *testing.T) {
	l, err := processlock.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ran := false
	if err := l.CleanupStale(func() error {
		ran = true
		if _, ok, err := l.TryLock(processlock.CleanupLockID); err != nil || ok {
			t.Errorf("expected the cleanup lock id to be held while fn runs, got ok=%v err=%v", ok, err)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("expected cleanup function to run")
	}
}
