package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerQueue is a fixed pool of workers reading from a bounded channel.
type WorkerQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// base is the parent of every job context; cancelled if a drain runs out of time.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type Option func(*WorkerQueue)

func WithWorkers(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(q *WorkerQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewWorkerQueue(h Handler, logger *slog.Logger, opts ...Option) *WorkerQueue {
	base, cancel := context.WithCancel(context.Background())
	q := &WorkerQueue{
		handler: h,
		logger:  logger,
		workers: 4,
		timeout: 6 * time.Minute,
		ch:      make(chan Job, 256),
		base:    base,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *WorkerQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.start", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Debug("queue.worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *WorkerQueue) run(workerID int, job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue.job.panic", "worker_id", workerID, "case_id", job.CaseID, "panic", r)
		}
	}()

	err := q.handler.Process(ctx, job)
	if err != nil {
		q.logger.Error("queue.job.failed",
			"worker_id", workerID,
			"case_id", job.CaseID,
			"mode", job.Mode,
			"err", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	q.logger.Info("queue.job.ok",
		"worker_id", workerID,
		"case_id", job.CaseID,
		"mode", job.Mode,
		"wait_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *WorkerQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "case_id", job.CaseID)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueue.ok", "case_id", job.CaseID, "mode", job.Mode)
		return nil
	default:
	}

	q.logger.Warn("queue.enqueue.backpressure", "case_id", job.CaseID, "depth", len(q.ch))
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of jobs waiting for a worker.
func (q *WorkerQueue) Len() int {
	return len(q.ch)
}

// Shutdown stops intake and waits for queued jobs. In-flight jobs are
// cancelled if ctx expires first.
func (q *WorkerQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
		q.cancel()
		<-done
	case <-done:
		q.cancel()
		q.logger.Info("queue.shutdown.ok")
	}
}
