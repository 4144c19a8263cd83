package utils

import (
	"sync"
	"time"
)

// WorkerPool runs jobs on at most a fixed number of goroutines and spaces
// job starts by a minimum interval.
type WorkerPool struct {
	slots    chan struct{}
	interval time.Duration
	wg       sync.WaitGroup

	mu   sync.Mutex
	next time.Time // earliest start time of the next job
}

// NewWorkerPool creates a pool of maxWorkers slots whose jobs start at least
// rateLimitMs apart. maxWorkers below 1 is treated as 1; a non-positive
// rateLimitMs disables spacing.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		slots:    make(chan struct{}, maxWorkers),
		interval: time.Duration(rateLimitMs) * time.Millisecond,
	}
}

// Submit runs job in the pool. It blocks only while every worker slot is busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.slots <- struct{}{}
	go wp.run(job)
}

// Go is like Submit but never blocks the caller: slot acquisition happens
// on the spawned goroutine. Used when the caller is serving a request.
func (wp *WorkerPool) Go(job func()) {
	wp.wg.Add(1)
	go func() {
		wp.slots <- struct{}{}
		wp.run(job)
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// run executes job in an acquired slot and releases it afterwards.
func (wp *WorkerPool) run(job func()) {
	defer wp.wg.Done()
	defer func() { <-wp.slots }()

	wp.awaitTurn()
	job()
}

// awaitTurn reserves the next start time and sleeps until it. The lock is
// held only for the reservation, so waiting workers queue up in order.
func (wp *WorkerPool) awaitTurn() {
	if wp.interval <= 0 {
		return
	}

	wp.mu.Lock()
	start := time.Now()
	if wp.next.After(start) {
		start = wp.next
	}
	wp.next = start.Add(wp.interval)
	wp.mu.Unlock()

	if d := time.Until(start); d > 0 {
		time.Sleep(d)
	}
}

// URLSet is a thread-safe set of URLs seen during one scrape job.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
