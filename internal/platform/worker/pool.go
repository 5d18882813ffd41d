// Package worker provides a bounded worker pool for fire-and-forget tasks.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBackpressure is returned when the queue is full and the pool drops new tasks.
	ErrBackpressure = errors.New("worker pool queue full")
	// ErrClosed is returned when submitting to a closed pool.
	ErrClosed = errors.New("worker pool closed")
)

// Task is a unit of work. Its error is reported to PoolConfig.OnError.
type Task func(ctx context.Context) error

// DropPolicy decides what Submit does when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock waits for queue space.
	DropPolicyBlock DropPolicy = iota
	// DropPolicyNewest rejects the incoming task with ErrBackpressure.
	DropPolicyNewest
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
	OnError    func(err error)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Dropped   uint64
	Queued    int
}

// Pool runs tasks on a fixed number of goroutines pulling from a bounded queue.
type Pool struct {
	cfg    PoolConfig
	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool starts cfg.Workers goroutines. Tasks receive a context derived from ctx.
func NewPool(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		ctx:    poolCtx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	return p
}

func (p *Pool) run() {
	defer p.wg.Done()

	for task := range p.queue {
		if p.ctx.Err() != nil {
			p.dropped.Add(1)
			continue
		}
		if err := task(p.ctx); err != nil {
			p.failed.Add(1)
			if p.cfg.OnError != nil {
				p.cfg.OnError(err)
			}
			continue
		}
		p.completed.Add(1)
	}
}

// Submit queues task according to the pool's DropPolicy.
func (p *Pool) Submit(task Task) error {
	if p.cfg.DropPolicy == DropPolicyNewest {
		return p.TrySubmit(task)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// TrySubmit queues task without blocking, returning ErrBackpressure when full.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrBackpressure
	}
}

// Close stops accepting tasks, runs what is already queued and waits for workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Abort cancels running tasks, discards the queue and waits for workers.
func (p *Pool) Abort() {
	p.cancel()
	p.Close()
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
	}
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}
