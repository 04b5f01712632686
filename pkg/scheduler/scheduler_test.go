package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBoundedLimitsConcurrency(t *testing.T) {
	const maxConcurrent = 2
	const jobs = 8

	sch := NewBounded(maxConcurrent)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(jobs)

	for i := 0; i < jobs; i++ {
		if err := sch.Schedule(func() {
			defer wg.Done()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
		}); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}

	wg.Wait()
	if got := peak.Load(); got > maxConcurrent {
		t.Errorf("got peak concurrency %d, want at most %d", got, maxConcurrent)
	}
}

func TestInlineRunsSynchronously(t *testing.T) {
	var ran bool
	sch := Inline{}
	if err := sch.Schedule(func() { ran = true }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !ran {
		t.Error("expected Inline.Schedule to run the job before returning")
	}
}
