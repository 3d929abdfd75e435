package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Job is a unit of work executed by the pool
type Job func(ctx context.Context) error

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	NumWorkers int
	QueueSize  int
}

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	config   PoolConfig
	jobQueue chan *job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	workersActive int64
}

// job represents a submitted unit of work
type job struct {
	fn       Job
	ctx      context.Context
	resultCh chan error
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config PoolConfig) *WorkerPool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4 // Default
	}

	if config.QueueSize <= 0 {
		config.QueueSize = config.NumWorkers * 16
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		config:   config,
		jobQueue: make(chan *job, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts all workers in the pool
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.config.NumWorkers; i++ {
			p.wg.Add(1)
			go p.run()
		}
	})
}

// Run submits every job and waits for all of them. The returned slice holds
// the error of each job at the same index. Jobs run with ctx, so spans and
// values of the caller carry over.
func (p *WorkerPool) Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	pending := make([]*job, len(jobs))

	// Enqueue from a separate goroutine so a queue smaller than len(jobs)
	// cannot deadlock against the waits below.
	ready := make([]chan struct{}, len(jobs))
	for i := range ready {
		ready[i] = make(chan struct{})
	}
	go func() {
		for i, fn := range jobs {
			pending[i], errs[i] = p.enqueue(ctx, fn)
			close(ready[i])
		}
	}()

	for i := range jobs {
		<-ready[i]
		if errs[i] != nil {
			continue
		}
		errs[i] = p.wait(ctx, pending[i])
	}
	return errs
}

func (p *WorkerPool) enqueue(ctx context.Context, fn Job) (*job, error) {
	select {
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	default:
	}

	j := &job{
		fn:       fn,
		ctx:      ctx,
		resultCh: make(chan error, 1),
	}

	select {
	case p.jobQueue <- j:
		return j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}
}

func (p *WorkerPool) wait(ctx context.Context, j *job) error {
	select {
	case err := <-j.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Stop stops the workers after their current job. Queued jobs are abandoned
// and their submitters receive ErrPoolClosed.
func (p *WorkerPool) Stop() error {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
	return nil
}

// Metrics returns worker pool statistics
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		NumWorkers:    p.config.NumWorkers,
		WorkersActive: atomic.LoadInt64(&p.workersActive),
		QueueSize:     len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
	}
}

// run is the main worker loop
func (p *WorkerPool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobQueue:
			p.process(j)
		}
	}
}

func (p *WorkerPool) process(j *job) {
	atomic.AddInt64(&p.workersActive, 1)
	err := j.fn(j.ctx)
	atomic.AddInt64(&p.workersActive, -1)

	// resultCh is buffered; the submitter may have gone away
	select {
	case j.resultCh <- err:
	default:
	}
}

// PoolMetrics holds worker pool statistics
type PoolMetrics struct {
	NumWorkers    int
	WorkersActive int64
	QueueSize     int
	QueueCapacity int
}

// Utilization returns the queue utilization percentage (0-100)
func (m PoolMetrics) Utilization() float64 {
	if m.QueueCapacity == 0 {
		return 0
	}
	return (float64(m.QueueSize) / float64(m.QueueCapacity)) * 100.0
}
