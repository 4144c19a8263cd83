// Package queue dispatches one scrape job per store and reports their
// progress. The aggregator depends only on the Dispatcher interface; the
// transport behind it is either in-process or a Redis stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"price-aggregator/models"
	"price-aggregator/utils"
)

// ErrHandleNotFound is returned by Poll for unknown or expired handles.
var ErrHandleNotFound = errors.New("queue: handle not found")

// WorkItem is one scrape job: a store searched for a query in a country.
type WorkItem struct {
	Store   string `json:"store"`
	Query   string `json:"query"`
	Country string `json:"country"`
}

// Batch is the set of jobs of one aggregation run.
type Batch struct {
	Query   string
	Country string
	Stores  []string
}

// Items expands the batch into one WorkItem per store.
func (b Batch) Items() []WorkItem {
	items := make([]WorkItem, 0, len(b.Stores))
	for _, s := range b.Stores {
		items = append(items, WorkItem{Store: s, Query: b.Query, Country: b.Country})
	}
	return items
}

// JobStatus is the state of a single job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobState is what a poller sees of one job.
type JobState struct {
	Store   string             `json:"store"`
	Status  JobStatus          `json:"status"`
	Records []models.RawRecord `json:"records,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Snapshot is the state of every job of a batch at poll time.
type Snapshot struct {
	Handle  string
	Query   string
	Country string
	Jobs    []JobState
}

// Total is the number of dispatched jobs.
func (s *Snapshot) Total() int { return len(s.Jobs) }

// Completed counts jobs that finished, successfully or not.
func (s *Snapshot) Completed() int {
	n := 0
	for _, j := range s.Jobs {
		if j.Status != JobPending {
			n++
		}
	}
	return n
}

// Done reports whether no job is still pending.
func (s *Snapshot) Done() bool { return s.Completed() == s.Total() }

// AllFailed reports whether every job hard-failed.
func (s *Snapshot) AllFailed() bool {
	if len(s.Jobs) == 0 {
		return false
	}
	for _, j := range s.Jobs {
		if j.Status != JobFailed {
			return false
		}
	}
	return true
}

// Dispatcher fans a batch out to independent jobs and reports their state.
// Poll never blocks on unfinished jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch Batch) (string, error)
	Poll(ctx context.Context, handle string) (*Snapshot, error)
}

// JobRunner executes one scrape job. In production it is the store
// scraper; tests use in-memory fakes.
type JobRunner interface {
	Run(ctx context.Context, item WorkItem) ([]models.RawRecord, error)
}

// JobRunnerFunc adapts a function to JobRunner.
type JobRunnerFunc func(ctx context.Context, item WorkItem) ([]models.RawRecord, error)

func (f JobRunnerFunc) Run(ctx context.Context, item WorkItem) ([]models.RawRecord, error) {
	return f(ctx, item)
}

// executor runs a job with a timeout and retries, converting panics from
// the runner (a crashed browser step, for example) into errors.
type executor struct {
	runner  JobRunner
	retry   *utils.RetryConfig
	timeout time.Duration
}

func (e *executor) execute(ctx context.Context, item WorkItem) JobState {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var records []models.RawRecord
	op := fmt.Sprintf("scrape %s", item.Store)
	err := e.retryConfig().Do(ctx, op, func(ctx context.Context) error {
		var runErr error
		records, runErr = safeRun(ctx, e.runner, item)
		return runErr
	})
	if err != nil {
		return JobState{Store: item.Store, Status: JobFailed, Error: err.Error()}
	}
	if records == nil {
		records = []models.RawRecord{}
	}
	return JobState{Store: item.Store, Status: JobSucceeded, Records: records}
}

func (e *executor) retryConfig() *utils.RetryConfig {
	if e.retry == nil {
		return &utils.RetryConfig{MaxAttempts: 1}
	}
	return e.retry
}

func safeRun(ctx context.Context, runner JobRunner, item WorkItem) (records []models.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", item.Store, r, debug.Stack())
		}
	}()
	return runner.Run(ctx, item)
}
