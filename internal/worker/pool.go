package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	apperrors "github.com/darkodi/terabox-bot/internal/errors"
	"github.com/darkodi/terabox-bot/internal/logger"
)

var ErrStopped = errors.New("worker pool stopped")

// Task is a unit of background work
type Task func(ctx context.Context)

type job struct {
	name string
	run  Task
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
	Rejected  int64 `json:"rejected"`
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue
type Pool struct {
	workers int
	jobs    chan job
	wg      sync.WaitGroup
	log     *logger.Logger

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// New creates a pool; call Start before submitting
func New(workers, queueSize int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan job, queueSize),
		log:     log,
	}
}

// Start launches the workers. Tasks receive ctx.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("concurrency", p.workers).Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		workerID := i + 1
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.run(ctx, workerID, j)
			}
		}()
	}
}

// Submit queues a task without blocking. A full queue returns QueueFull.
func (p *Pool) Submit(name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job{name: name, run: task}:
		return nil
	default:
		p.rejected.Add(1)
		return apperrors.QueueFull()
	}
}

// Stop refuses new tasks and waits for queued ones to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.jobs),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) run(ctx context.Context, workerID int, j job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.log.Error().
				Int("worker_id", workerID).
				Str("job", j.name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic recovered in task")
			return
		}
		p.completed.Add(1)
	}()

	p.log.Debug().Int("worker_id", workerID).Str("job", j.name).Msg("task started")
	j.run(ctx)
}
