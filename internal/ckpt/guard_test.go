package ckpt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuard_TryAcquire(t *testing.T) {
	var g Guard

	release, err := g.TryAcquire("RestoreCheckpoint")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if got := g.Holder(); got != "RestoreCheckpoint" {
		t.Errorf("Holder() = %q, want RestoreCheckpoint", got)
	}

	if _, err := g.TryAcquire("CreateCheckpoint"); !errors.Is(err, ErrRestoreInProgress) {
		t.Errorf("second TryAcquire() error = %v, want ErrRestoreInProgress", err)
	}

	release()
	release() // second call is a no-op
	if got := g.Holder(); got != "" {
		t.Errorf("Holder() after release = %q, want empty", got)
	}

	release2, err := g.TryAcquire("CreateCheckpoint")
	if err != nil {
		t.Fatalf("TryAcquire() after release error = %v", err)
	}
	release2()
}

func TestGuard_SingleWinner(t *testing.T) {
	const n = 16
	var (
		g        Guard
		wins     atomic.Int32
		start    = make(chan struct{})
		attempts sync.WaitGroup
		wg       sync.WaitGroup
	)

	attempts.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := g.TryAcquire("op")
			attempts.Done()
			if err != nil {
				return
			}
			wins.Add(1)
			// Hold until every goroutine has tried.
			attempts.Wait()
			release()
		}()
	}

	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("%d goroutines acquired the guard, want 1", got)
	}
}
