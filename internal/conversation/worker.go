package conversation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Job is a unit of background work. The context is the worker's own; it is
// not cancelled while the job runs.
type Job func(ctx context.Context)

type workItem struct {
	name    string
	job     Job
	barrier chan struct{}
}

// Worker runs jobs one at a time on a single goroutine, in submission order.
//
// The queue is unbounded so producers never block. Barriers travel through
// the same queue, which makes Flush a strict happens-after of every earlier
// submission.
type Worker struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []workItem
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewWorker starts a worker goroutine.
func NewWorker(logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit enqueues job. It returns ErrClosed once Close has been called.
func (w *Worker) Submit(name string, job Job) error {
	return w.push(workItem{name: name, job: job})
}

// Flush blocks until every job submitted before the call has finished, or ctx
// ends. After Close it waits for the drain to complete.
func (w *Worker) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := w.push(workItem{name: "barrier", barrier: barrier}); err != nil {
		barrier = w.done
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the queue to drain. Calling Close
// more than once is safe.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining worker: %w", ctx.Err())
	}
}

// Pending returns the number of queued items, barriers included.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) push(it workItem) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, it)
	w.mu.Unlock()

	if it.job != nil {
		QueueDepth.Inc()
	}
	w.signal()
	return nil
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer close(w.done)

	ctx := context.Background()
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.mu.Unlock()
			<-w.wake
			w.mu.Lock()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		it := w.queue[0]
		w.queue[0] = workItem{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if it.barrier != nil {
			close(it.barrier)
			continue
		}
		QueueDepth.Dec()
		w.execute(ctx, it)
	}
}

func (w *Worker) execute(ctx context.Context, it workItem) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker job panicked",
				zap.String("job", it.name),
				zap.Any("panic", r),
			)
			ItemsProcessed.WithLabelValues(it.name, resultPanic).Inc()
		}
	}()
	it.job(ctx)
}
