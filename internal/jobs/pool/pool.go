package pool

import (
	"sync"
	"sync/atomic"

	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

// Pool runs submitted tasks on a fixed set of workers behind a bounded
// queue. When the queue is full the task runs on the submitting
// goroutine instead of being dropped, so progress continues under
// saturation at the cost of backpressure on the caller.
type Pool struct {
	name    string
	tasks   chan func()
	wg      sync.WaitGroup
	closed  atomic.Bool
	inlined atomic.Int64
	log     *logger.Logger
}

// New starts a pool with the given worker count and queue capacity.
// Non-positive values fall back to 1 worker and an unbuffered queue.
func New(name string, workers, queueCap int, baseLog *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueCap < 0 {
		queueCap = 0
	}
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	p := &Pool{
		name:  name,
		tasks: make(chan func(), queueCap),
		log:   baseLog.With("component", "WorkerPool", "pool", name),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues the task, or runs it inline when the queue is full
// or the pool is already closed. It never blocks on a full queue.
func (p *Pool) Submit(task func()) {
	if task == nil {
		return
	}
	if p.closed.Load() {
		task()
		return
	}
	select {
	case p.tasks <- task:
	default:
		p.inlined.Add(1)
		p.log.Debug("queue full, running task on submitter")
		task()
	}
}

// Len reports the number of tasks waiting in the queue.
func (p *Pool) Len() int { return len(p.tasks) }

// InlineRuns reports how many tasks ran on the submitter because the
// queue was full.
func (p *Pool) InlineRuns() int64 { return p.inlined.Load() }

// Close stops accepting new work and waits for queued tasks to drain.
// Tasks submitted after Close run inline on the submitter.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}
