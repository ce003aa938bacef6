package phase

import (
	"sync"
	"testing"
	"time"
)

func TestCoordinator_StreamingUnblocksWhenAllLeaveHeaders(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		c.EnterHeaders(true)
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.EnterStreaming(true)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	c.LeaveHeaders(true)
	c.LeaveHeaders(true)
	c.LeaveHeaders(true)

	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
}

func TestCoordinator_EnterFootersWaitsForLeaveStreaming(t *testing.T) {
	c := New()
	c.EnterHeaders(true)
	c.EnterHeaders(true)
	c.LeaveHeaders(true)
	c.LeaveHeaders(true)
	if err := c.EnterStreaming(true); err != nil {
		t.Fatalf("EnterStreaming: %v", err)
	}
	if err := c.EnterStreaming(true); err != nil {
		t.Fatalf("EnterStreaming: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.EnterFooters()
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("EnterFooters returned before both streams left streaming")
	default:
	}

	c.LeaveStreaming(true)
	c.LeaveStreaming(true)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("EnterFooters: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("EnterFooters never returned after both streams left")
	}
}

func TestCoordinator_NonLockedStreamBypassesBarrier(t *testing.T) {
	c := New()
	c.EnterHeaders(false)
	if err := c.EnterStreaming(false); err != nil {
		t.Fatalf("non-locked EnterStreaming should never block: %v", err)
	}
	if err := c.EnterFooters(); err != nil {
		t.Fatalf("EnterFooters with no phase-locked streams should return immediately: %v", err)
	}
	if !c.Unsorted() {
		t.Errorf("expected Unsorted() true after a non-locked stream entered")
	}
}

func TestCoordinator_EnterStreamingTimesOutOnStraggler(t *testing.T) {
	c := New()
	c.EnterHeaders(true)
	c.EnterHeaders(true)
	c.LeaveHeaders(true)
	// Only one of two phase-locked streams ever leaves Headers; the other
	// must time out rather than block forever.

	done := make(chan error, 1)
	go func() {
		done <- c.EnterStreaming(true)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected timeout error")
		}
	case <-time.After(HeadersTimeout + 2*time.Second):
		t.Fatal("EnterStreaming never returned")
	}
}
