// ABOUTME: Bounded worker queue for chained background generation
// ABOUTME: Continuations run off the request path so the first turn returns immediately

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/nextturn/internal/store"
)

// chainTask asks for the turn after current.
type chainTask struct {
	current *store.Message
	depth   int
}

// chainRunner executes chain tasks on a fixed pool of workers.
type chainRunner struct {
	mu     sync.Mutex
	closed bool
	tasks  chan chainTask
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func newChainRunner(workers, queueSize int, run func(context.Context, chainTask), logger *slog.Logger) *chainRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &chainRunner{
		tasks:  make(chan chainTask, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for task := range r.tasks {
				if r.ctx.Err() != nil {
					continue
				}
				run(r.ctx, task)
			}
		}()
	}
	return r
}

// enqueue schedules a task without blocking. It returns false when the
// runner is closed or the queue is full; the turn is then generated on
// demand by the next RequestNext.
func (r *chainRunner) enqueue(task chainTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	select {
	case r.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops intake and waits for workers to drain the queue. If ctx ends
// first, in-flight generation is cancelled and ctx.Err() is returned.
func (r *chainRunner) close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn("chain runner stopped before queue drained")
		<-done
		return ctx.Err()
	}
}
