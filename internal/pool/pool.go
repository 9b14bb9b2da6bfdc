// Package pool runs fetch tasks on a fixed set of workers behind a shared
// token-bucket limiter. The pool owns the retry policy; submitters own
// task semantics and see exactly one Result per submitted task.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/fetch"
	"marketwatch/internal/observability"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("pool: closed")

// Task is one fetch the pool should perform. Kind and Meta belong to the
// submitter; the pool only uses Kind as a metric label.
type Task struct {
	URL  string
	Kind string
	Meta any
}

// Result pairs a task with its outcome. Body is set on success, Err on
// failure; Attempts counts requests actually issued.
type Result struct {
	Task     Task
	Body     []byte
	Err      error
	Attempts int
}

// Config for New. Zero values fall back to workable defaults; Fetcher is
// required.
type Config struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	RequestTimeout  time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	Fetcher         fetch.Fetcher
	Limiter         *Limiter
	Logger          zerolog.Logger
	Metrics         *observability.Metrics
}

// Pool dispatches tasks to workers. The results channel is buffered past
// the queue size plus worker count, so workers never block on delivery
// and a submitter reading results cannot deadlock against a full queue.
type Pool struct {
	cfg     Config
	tasks   chan Task
	results chan Result

	ctx       context.Context
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8192
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Pool{
		cfg:     cfg,
		tasks:   make(chan Task, cfg.QueueSize),
		results: make(chan Result, cfg.QueueSize+cfg.Workers),
	}
}

// Start launches the workers. Cancelling ctx stops new request
// initiations immediately; requests already on the wire finish under
// their own timeout, and queued tasks complete with the context error.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx = ctx
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
		go func() {
			p.wg.Wait()
			close(p.results)
		}()
	})
}

// Submit enqueues a task, blocking while the queue is full. Submit and
// Close must be called from the same goroutine.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()
	p.tasks <- t
	return nil
}

// Results is the completion stream. It closes after Close once every
// pending task has been delivered.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops intake. Pending tasks still run to completion first.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.tasks)
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.results <- p.process(t)
	}
}

func (p *Pool) process(t Task) Result {
	m := p.cfg.Metrics
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.ctx.Err(); err != nil {
			return Result{Task: t, Err: err, Attempts: attempts}
		}
		if attempt > 1 {
			delay := backoff(p.cfg.RetryBackoff, p.cfg.RetryBackoffMax, attempt-1)
			select {
			case <-p.ctx.Done():
				return Result{Task: t, Err: p.ctx.Err(), Attempts: attempts}
			case <-time.After(delay):
			}
			m.IncRetry()
			p.cfg.Logger.Debug().
				Str("url", t.URL).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying fetch")
		}

		// The token gates initiation only; it is consumed before the
		// request goes out and never held across the network wait.
		if err := p.cfg.Limiter.Acquire(p.ctx); err != nil {
			return Result{Task: t, Err: err, Attempts: attempts}
		}

		// Detached from the run context so an abort lets requests
		// already in flight finish under their own deadline.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), p.cfg.RequestTimeout)
		start := time.Now()
		body, err := p.cfg.Fetcher.Fetch(reqCtx, t.URL)
		cancel()
		m.ObserveFetch(t.Kind, time.Since(start))
		attempts = attempt

		if err == nil {
			m.IncRequest(t.Kind, "ok")
			return Result{Task: t, Body: body, Attempts: attempts}
		}
		lastErr = err
		m.IncRequest(t.Kind, "error")
		if !Transient(err) {
			break
		}
	}

	m.IncFetchError(t.Kind)
	return Result{Task: t, Err: &FetchError{URL: t.URL, Attempts: attempts, Err: lastErr}, Attempts: attempts}
}

// backoff returns base doubled per prior retry, capped at max.
func backoff(base, max time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := base * time.Duration(1<<(retry-1))
	if max > 0 && d > max {
		d = max
	}
	return d
}
