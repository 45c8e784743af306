package batchqueue

import (
	"context"
	"testing"
	"time"
)

func TestPutGetSingleBatch(t *testing.T) {
	q := New[int]()
	q.Put([]int{1, 2, 3})

	got, ok := q.TryGet()
	if !ok {
		t.Fatal("TryGet returned ok=false after a Put")
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("got %v, want [1 2 3]", got)
	}

	if _, ok := q.TryGet(); ok {
		t.Error("TryGet after draining should return ok=false")
	}
}

func TestPutAccumulatesUntilGet(t *testing.T) {
	q := New[int]()
	q.Put([]int{1})
	q.Put([]int{2, 3})

	got, ok := q.TryGet()
	if !ok {
		t.Fatal("TryGet returned ok=false")
	}
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 accumulated items", got)
	}
}

func TestTryGetEmptyQueue(t *testing.T) {
	q := New[int]()
	if _, ok := q.TryGet(); ok {
		t.Error("TryGet on an empty queue should return ok=false")
	}
}

func TestGetTimeoutExpires(t *testing.T) {
	q := New[int]()
	start := time.Now()
	_, ok := q.GetTimeout(20 * time.Millisecond)
	if ok {
		t.Error("GetTimeout on an empty queue should return ok=false")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("GetTimeout returned after %v, want at least 20ms", elapsed)
	}
}

func TestGetTimeoutReceivesPut(t *testing.T) {
	q := New[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Put([]int{7})
	}()

	got, ok := q.GetTimeout(time.Second)
	if !ok {
		t.Fatal("GetTimeout should have received the batch")
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("got %v, want [7]", got)
	}
}

func TestGetUnblocksOnPut(t *testing.T) {
	q := New[string]()
	done := make(chan []string, 1)
	go func() {
		got, _ := q.Get(context.Background())
		done <- got
	}()

	time.Sleep(5 * time.Millisecond)
	q.Put([]string{"a", "b"})

	select {
	case got := <-done:
		if len(got) != 2 {
			t.Errorf("got %v, want 2 items", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestGetReturnsOnContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Get should return ok=false when context is cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not return after context cancellation")
	}
}

func TestLenAndHighWater(t *testing.T) {
	q := New[int]()
	q.Put([]int{1, 2})
	if n := q.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
	q.Put([]int{3, 4, 5})
	if n := q.Len(); n != 5 {
		t.Errorf("Len() = %d, want 5", n)
	}

	if hw := q.HighWater(); hw != 5 {
		t.Errorf("HighWater() = %d, want 5", hw)
	}
	// HighWater resets to the current depth once read, not to zero.
	if hw := q.HighWater(); hw != 5 {
		t.Errorf("second HighWater() = %d, want 5 (reset to current depth, queue still undrained)", hw)
	}

	q.TryGet()
	if n := q.Len(); n != 0 {
		t.Errorf("Len() after TryGet = %d, want 0", n)
	}
}
