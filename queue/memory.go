package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"price-aggregator/metrics"
	"price-aggregator/utils"
)

// MemoryDispatcher runs jobs in-process on a rate-limited worker pool.
// Job state lives in memory and expires after ttl.
type MemoryDispatcher struct {
	exec    *executor
	pool    *utils.WorkerPool
	ttl     time.Duration
	logger  *utils.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	batches map[string]*memoryBatch
}

type memoryBatch struct {
	query     string
	country   string
	jobs      []JobState
	createdAt time.Time
}

// MemoryOptions configures a MemoryDispatcher.
type MemoryOptions struct {
	MaxConcurrency int
	RateLimitMs    int
	JobTimeout     time.Duration
	Retry          *utils.RetryConfig
	TTL            time.Duration
}

// NewMemoryDispatcher creates a dispatcher that executes jobs with runner.
func NewMemoryDispatcher(runner JobRunner, opts MemoryOptions, logger *utils.Logger, m *metrics.Metrics) *MemoryDispatcher {
	return &MemoryDispatcher{
		exec:    &executor{runner: runner, retry: opts.Retry, timeout: opts.JobTimeout},
		pool:    utils.NewWorkerPool(opts.MaxConcurrency, opts.RateLimitMs),
		ttl:     opts.TTL,
		logger:  logger,
		metrics: m,
		batches: make(map[string]*memoryBatch),
	}
}

// Dispatch registers the batch and starts its jobs without waiting for them.
// Jobs run detached from ctx so an abandoned request never cancels them.
func (d *MemoryDispatcher) Dispatch(_ context.Context, batch Batch) (string, error) {
	handle := uuid.NewString()
	items := batch.Items()

	b := &memoryBatch{
		query:     batch.Query,
		country:   batch.Country,
		jobs:      make([]JobState, len(items)),
		createdAt: time.Now(),
	}
	for i, item := range items {
		b.jobs[i] = JobState{Store: item.Store, Status: JobPending}
	}

	d.mu.Lock()
	d.evictExpiredLocked()
	d.batches[handle] = b
	d.mu.Unlock()

	d.logger.Info("[queue] Dispatched %d jobs for %q (%s), handle %s", len(items), batch.Query, batch.Country, handle)

	for i, item := range items {
		i, item := i, item
		d.pool.Go(func() {
			state := d.exec.execute(context.Background(), item)
			d.complete(handle, i, state)
		})
	}
	return handle, nil
}

func (d *MemoryDispatcher) complete(handle string, index int, state JobState) {
	if state.Status == JobFailed {
		d.logger.Warn("[queue] Job %s for %s failed: %s", state.Store, handle, state.Error)
	} else {
		d.logger.Debug("[queue] Job %s for %s returned %d records", state.Store, handle, len(state.Records))
	}
	d.metrics.IncScrapeJob(state.Store, string(state.Status))

	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.batches[handle]; ok {
		b.jobs[index] = state
	}
}

// Poll returns a copy of the batch state.
func (d *MemoryDispatcher) Poll(_ context.Context, handle string) (*Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.batches[handle]
	if !ok || d.expired(b) {
		return nil, ErrHandleNotFound
	}

	jobs := make([]JobState, len(b.jobs))
	copy(jobs, b.jobs)
	return &Snapshot{Handle: handle, Query: b.query, Country: b.country, Jobs: jobs}, nil
}

// Wait blocks until every dispatched job has finished.
func (d *MemoryDispatcher) Wait() {
	d.pool.Wait()
}

func (d *MemoryDispatcher) expired(b *memoryBatch) bool {
	return d.ttl > 0 && time.Since(b.createdAt) > d.ttl
}

func (d *MemoryDispatcher) evictExpiredLocked() {
	for h, b := range d.batches {
		if d.expired(b) {
			delete(d.batches, h)
		}
	}
}
