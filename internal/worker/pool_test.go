package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type ctxKey struct{}

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name         string
		config       PoolConfig
		wantWorkers  int
		wantCapacity int
	}{
		{
			name:         "default config",
			config:       PoolConfig{},
			wantWorkers:  4,
			wantCapacity: 64,
		},
		{
			name:         "custom config",
			config:       PoolConfig{NumWorkers: 8, QueueSize: 500},
			wantWorkers:  8,
			wantCapacity: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.config)
			defer pool.Stop()

			m := pool.Metrics()
			if m.NumWorkers != tt.wantWorkers {
				t.Errorf("Expected %d workers, got %d", tt.wantWorkers, m.NumWorkers)
			}
			if m.QueueCapacity != tt.wantCapacity {
				t.Errorf("Expected queue capacity %d, got %d", tt.wantCapacity, m.QueueCapacity)
			}
		})
	}
}

func TestWorkerPool_Run(t *testing.T) {
	// a queue smaller than the batch must not deadlock
	pool := NewWorkerPool(PoolConfig{NumWorkers: 3, QueueSize: 1})
	defer pool.Stop()
	pool.Start()

	failure := errors.New("device failed")
	var processed int64

	jobs := make([]Job, 20)
	for i := range jobs {
		i := i
		jobs[i] = func(ctx context.Context) error {
			atomic.AddInt64(&processed, 1)
			if i%5 == 0 {
				return failure
			}
			return nil
		}
	}

	errs := pool.Run(context.Background(), jobs)
	if len(errs) != len(jobs) {
		t.Fatalf("Expected %d results, got %d", len(jobs), len(errs))
	}
	for i, err := range errs {
		if i%5 == 0 && !errors.Is(err, failure) {
			t.Errorf("job %d: expected failure, got %v", i, err)
		}
		if i%5 != 0 && err != nil {
			t.Errorf("job %d: unexpected error %v", i, err)
		}
	}

	if atomic.LoadInt64(&processed) != 20 {
		t.Errorf("Expected 20 jobs processed, got %d", processed)
	}
}

func TestWorkerPool_RunPropagatesContext(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{NumWorkers: 2})
	defer pool.Stop()
	pool.Start()

	ctx := context.WithValue(context.Background(), ctxKey{}, "scan-7")
	errs := pool.Run(ctx, []Job{func(ctx context.Context) error {
		if ctx.Value(ctxKey{}) != "scan-7" {
			return errors.New("caller context not propagated")
		}
		return nil
	}})
	if errs[0] != nil {
		t.Error(errs[0])
	}
}

func TestWorkerPool_RunAfterStop(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{NumWorkers: 1})
	pool.Start()
	pool.Stop()
	pool.Stop() // idempotent

	errs := pool.Run(context.Background(), []Job{func(context.Context) error { return nil }})
	if !errors.Is(errs[0], ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", errs[0])
	}
}

func TestWorkerPool_RunCallerCancel(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{NumWorkers: 1})
	defer pool.Stop()
	pool.Start()

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errs := pool.Run(ctx, []Job{func(context.Context) error {
		<-release
		return nil
	}})
	if !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Errorf("Expected caller deadline, got %v", errs[0])
	}
}

func TestWorkerPool_MetricsWhileBusy(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{NumWorkers: 2, QueueSize: 4})
	defer pool.Stop()
	pool.Start()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	block := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}

	done := make(chan []error)
	go func() { done <- pool.Run(context.Background(), []Job{block, block}) }()

	<-started
	<-started
	if got := pool.Metrics().WorkersActive; got != 2 {
		t.Errorf("Expected 2 active workers, got %d", got)
	}

	close(release)
	<-done
	if got := pool.Metrics().WorkersActive; got != 0 {
		t.Errorf("Expected idle pool after run, got %d active", got)
	}
}

func TestPoolMetrics_Utilization(t *testing.T) {
	m := PoolMetrics{QueueSize: 25, QueueCapacity: 100}
	if u := m.Utilization(); u != 25 {
		t.Errorf("Expected 25%% utilization, got %f", u)
	}
	if u := (PoolMetrics{}).Utilization(); u != 0 {
		t.Errorf("Expected 0 utilization for empty pool, got %f", u)
	}
}
