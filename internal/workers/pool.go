package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool runs I/O-bound background jobs (hashing, directory scans) with
// bounded parallelism so the interactive surface never blocks behind them.
type Pool struct {
	sem    *semaphore.Weighted
	logger zerolog.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	active map[string]string // job ID -> name
}

// NewPool creates a pool allowing size concurrent jobs. Size values below
// one fall back to one.
func NewPool(size int64, logger zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(size),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]string),
	}
}

// Submit schedules fn and returns its job ID immediately. The job context
// is cancelled when the pool closes; fn is responsible for honoring it.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	id := ulid.Make().String()
	p.active[id] = name
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(id, name, fn)
	return id, nil
}

func (p *Pool) run(id, name string, fn func(ctx context.Context) error) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.active, id)
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.logger.Debug().Str("job", name).Str("job_id", id).Msg("job dropped before start")
		return
	}
	defer p.sem.Release(1)

	start := time.Now()
	err := runGuarded(p.ctx, fn)
	evt := p.logger.Debug()
	if err != nil && !errors.Is(err, context.Canceled) {
		evt = p.logger.Warn().Err(err)
	}
	evt.Str("job", name).Str("job_id", id).Dur("duration", time.Since(start)).Msg("background job finished")
}

func runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return fn(ctx)
}

// ActiveCount reports how many jobs are queued or running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops intake, cancels running jobs and waits for them to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
