package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTryAcquire_Exclusive(t *testing.T) {
	r := New()
	if !r.TryAcquire("a") {
		t.Fatal("first acquire failed")
	}
	if r.TryAcquire("a") {
		t.Error("second acquire of held key succeeded")
	}
	if !r.TryAcquire("b") {
		t.Error("different key should be independent")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}

	r.Release("a")
	if r.Held("a") {
		t.Error("a still held after release")
	}
	if !r.TryAcquire("a") {
		t.Error("reacquire after release failed")
	}
}

func TestRelease_Unheld(t *testing.T) {
	var r Registry
	r.Release("never")
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestTryLock_UnlockIsIdempotent(t *testing.T) {
	r := New()
	unlock, ok := r.TryLock("x")
	if !ok {
		t.Fatal("TryLock failed")
	}

	unlock()
	// Someone else takes the key; a stray second unlock must not free it.
	if !r.TryAcquire("x") {
		t.Fatal("acquire after unlock failed")
	}
	unlock()
	if !r.Held("x") {
		t.Error("second unlock released a key it no longer owned")
	}
}

func TestTryLock_Contended(t *testing.T) {
	r := New()
	unlock, _ := r.TryLock("x")
	defer unlock()

	noop, ok := r.TryLock("x")
	if ok {
		t.Fatal("contended TryLock succeeded")
	}
	noop()
	if !r.Held("x") {
		t.Error("no-op unlock from failed TryLock released the key")
	}
}

func TestTryAcquire_Concurrent(t *testing.T) {
	r := New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire("k") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want exactly 1", wins.Load())
	}
}
