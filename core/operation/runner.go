package operation

import (
	"context"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/edupay/feeledger/core"
)

type task struct {
	op   Operation
	job  Job
	done chan struct{}
}

// Runner executes operations on a bounded pool of workers.
type Runner struct {
	tracker *Tracker
	queue   chan task
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRunner(tracker *Tracker, conf *core.Config) *Runner {
	vala.BeginValidation().Validate(
		vala.IsNotNil(tracker, "tracker"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	workers, size := conf.Sync.Workers, conf.Sync.QueueSize
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &Runner{
		tracker: tracker,
		queue:   make(chan task, size),
		workers: workers,
	}
}

// Start launches the workers.
func (r *Runner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for t := range r.queue {
		// operations are not cancellable once started
		r.tracker.Run(context.Background(), t.op, t.job)
		close(t.done)
	}
}

// Submit queues op without blocking. The returned channel is closed once op is terminal.
// When the queue is full (or the runner is shut down) op is failed and ErrQueueFull returned.
func (r *Runner) Submit(op Operation, job Job) (<-chan struct{}, error) {
	t := task{op: op, job: job, done: make(chan struct{})}

	r.mu.Lock()
	queued := false
	if !r.closed {
		select {
		case r.queue <- t:
			queued = true
		default:
		}
	}
	r.mu.Unlock()

	if !queued {
		r.tracker.Fail(context.Background(), op, ErrQueueFull)
		return nil, ErrQueueFull
	}
	return t.done, nil
}

// Shutdown stops accepting operations and waits for queued ones to finish.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for operations to finish")
	}
}
