package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := New("test", 4, 16, logger.NewNop())
	var n atomic.Int64
	for i := 0; i < 50; i++ {
		p.Submit(func() { n.Add(1) })
	}
	p.Close()
	if got := n.Load(); got != 50 {
		t.Fatalf("expected 50 tasks to run, got %d", got)
	}
}

func TestPoolCallerRunsWhenSaturated(t *testing.T) {
	p := New("test", 1, 1, logger.NewNop())
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func() { close(started); <-block })
	<-started

	// Worker is busy. Fill the single queue slot, then one more.
	p.Submit(func() {})
	var ranInline atomic.Bool
	done := make(chan struct{})
	go func() {
		p.Submit(func() { ranInline.Store(true) })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit blocked instead of running inline")
	}
	if !ranInline.Load() {
		t.Fatal("expected saturated submit to run on the caller")
	}
	if p.InlineRuns() != 1 {
		t.Fatalf("expected 1 inline run, got %d", p.InlineRuns())
	}
	close(block)
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := New("test", 2, 4, logger.NewNop())
	p.Close()

	var ran bool
	p.Submit(func() { ran = true })
	if !ran {
		t.Fatal("expected task submitted after close to run inline")
	}
}

func TestPoolConcurrentSubmitters(t *testing.T) {
	p := New("test", 4, 8, logger.NewNop())
	var n atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.Submit(func() { n.Add(1) })
			}
		}()
	}
	wg.Wait()
	p.Close()
	if got := n.Load(); got != 800 {
		t.Fatalf("expected 800 tasks to run, got %d", got)
	}
}
