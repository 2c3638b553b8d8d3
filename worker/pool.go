// Package worker provides the named goroutine pools that fork branches
// run on, and a Registry that resolves a branch to its pool.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/xraph/forkjoin"
)

// Task is a unit of work submitted to a Pool. A task is always invoked
// exactly once after a successful Submit, with a canceled context if the
// pool is shutting down before it could start.
type Task func(ctx context.Context)

type queuedTask struct {
	ctx context.Context
	fn  Task
}

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	name        string
	concurrency int
	queueSize   int
	limiter     *rate.Limiter
	logger      *slog.Logger

	tasks chan queuedTask

	stopCh     chan struct{}
	wg         sync.WaitGroup
	submitters sync.WaitGroup
	mu         sync.Mutex
	running    bool
	stopped    bool

	seq         atomic.Uint64
	activeTasks map[uint64]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithQueueSize sets how many submitted tasks may wait for a free worker
// before Submit blocks.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.queueSize = n
		}
	}
}

// WithRateLimit caps how many tasks per second the pool starts.
// A non-positive limit disables rate limiting.
func WithRateLimit(perSecond float64, burst int) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewPool creates a pool. It does not run tasks until Start is called.
func NewPool(name string, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		name:        name,
		concurrency: 10,
		queueSize:   256,
		logger:      logger,
		stopCh:      make(chan struct{}),
		activeTasks: make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tasks = make(chan queuedTask, p.queueSize)
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Concurrency returns the number of worker goroutines.
func (p *Pool) Concurrency() int { return p.concurrency }

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeTasks)
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return forkjoin.ErrPoolStopped
	}
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("pool", p.name),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Submit queues task for execution. It blocks while the queue is full and
// returns ErrPoolStopped once the pool has been stopped.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return forkjoin.ErrPoolStopped
	}
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	select {
	case p.tasks <- queuedTask{ctx: ctx, fn: task}:
		return nil
	case <-p.stopCh:
		return forkjoin.ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the workers to stop and waits for running tasks to finish.
// Tasks still queued are run with a canceled context. If ctx expires first,
// running tasks are canceled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("pool", p.name))
	close(p.stopCh)
	// Anything a racing Submit enqueued is picked up by drain below.
	p.submitters.Wait()

	if !wasRunning {
		p.drain()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", slog.String("pool", p.name))
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks",
			slog.String("pool", p.name),
		)
		p.cancelActiveTasks()
		<-done
	}
	p.drain()
	return nil
}

func (p *Pool) loop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case qt := <-p.tasks:
			p.run(qt)
		}
	}
}

func (p *Pool) run(qt queuedTask) {
	ctx, cancel := context.WithCancel(qt.ctx)
	defer cancel()

	key := p.seq.Add(1)
	p.trackTask(key, cancel)
	defer p.untrackTask(key)

	if p.limiter != nil {
		// Wait also fails when the next token lies past ctx's deadline. The
		// task then runs canceled instead of bypassing the limit.
		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Debug("rate limit wait failed, running task canceled",
				slog.String("pool", p.name),
				slog.String("error", err.Error()),
			)
			cancel()
		}
	}
	qt.fn(ctx)
}

// drain runs every task left in the queue with a canceled context.
func (p *Pool) drain() {
	for {
		select {
		case qt := <-p.tasks:
			ctx, cancel := context.WithCancel(qt.ctx)
			cancel()
			qt.fn(ctx)
		default:
			return
		}
	}
}

func (p *Pool) trackTask(key uint64, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackTask(key uint64) {
	p.activeMu.Lock()
	delete(p.activeTasks, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.activeTasks {
		cancel()
	}
}
