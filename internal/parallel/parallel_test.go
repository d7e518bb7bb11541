package parallel_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blaze/internal/domain"
	"blaze/internal/parallel"
)

func TestPoolRespectsCountBound(t *testing.T) {
	p := parallel.New(domain.ParallelismCount(2))
	var active int32
	var maxActive int32
	var mu sync.Mutex

	for i := 0; i < 6; i++ {
		if err := p.Push(context.Background(), func() {
			n := atomic.AddInt32(&active, 1)
			mu.Lock()
			if n > maxActive {
				maxActive = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	p.Drain()
	if maxActive > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, observed %d", maxActive)
	}
}

func TestPoolNoneRunsSerially(t *testing.T) {
	p := parallel.New(domain.ParallelismNone())
	var active int32
	var maxActive int32
	for i := 0; i < 4; i++ {
		if err := p.Push(context.Background(), func() {
			n := atomic.AddInt32(&active, 1)
			if n > maxActive {
				maxActive = n
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	p.Drain()
	if maxActive != 1 {
		t.Fatalf("expected serial execution, observed max concurrency %d", maxActive)
	}
}

func TestPushAvailableReportsSaturation(t *testing.T) {
	p := parallel.New(domain.ParallelismCount(1))
	started := make(chan struct{})
	release := make(chan struct{})
	if !p.PushAvailable(func() {
		close(started)
		<-release
	}) {
		t.Fatal("expected first push to succeed immediately")
	}
	<-started
	if p.PushAvailable(func() {}) {
		t.Fatal("expected saturated pool to reject a second push")
	}
	close(release)
	p.Drain()
}

func TestDrainRePanicsFromWorker(t *testing.T) {
	p := parallel.New(domain.ParallelismInfinite())
	if err := p.Push(context.Background(), func() {
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		r := recover()
		if r != "boom" {
			t.Fatalf("expected Drain to re-panic with %q, got %v", "boom", r)
		}
	}()
	p.Drain()
	t.Fatal("expected Drain to panic")
}
