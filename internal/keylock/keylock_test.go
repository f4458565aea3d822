package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	g := New()
	release := g.Acquire("a")
	release()
	release() // double release must be a no-op

	done := make(chan struct{})
	go func() {
		r := g.Acquire("a")
		r()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("lock was not released")
	}
}

func TestDuplicateKeys(t *testing.T) {
	g := New()
	release := g.Acquire("x", "x", "x")
	release()
}

func TestOpposingOrderNoDeadlock(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r := g.Acquire("alice", "bob")
			r()
		}()
		go func() {
			defer wg.Done()
			r := g.Acquire("bob", "alice")
			r()
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlock between opposing acquisition orders")
	}
}

func TestExclusion(t *testing.T) {
	g := New()
	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := g.Acquire("k")
			defer release()
			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if max != 1 {
		t.Fatalf("expected exclusive section, saw %d concurrent holders", max)
	}
}
