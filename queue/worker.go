package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"price-aggregator/metrics"
	"price-aggregator/utils"
)

const (
	defaultGroup        = "scrapers"
	defaultBlockTimeout = 5 * time.Second
	defaultClaimMinIdle = 10 * time.Minute
	maxPendingCheck     = 100
	errorBackoff        = time.Second
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Group          string
	Consumer       string
	MaxConcurrency int
	RateLimitMs    int
	JobTimeout     time.Duration
	Retry          *utils.RetryConfig
	BlockTimeout   time.Duration
	ClaimMinIdle   time.Duration
}

// Worker consumes scrape jobs from the dispatcher's stream through a
// consumer group, runs them and stores their results.
type Worker struct {
	dispatcher   *RedisDispatcher
	exec         *executor
	pool         *utils.WorkerPool
	group        string
	consumer     string
	batchSize    int64
	blockTimeout time.Duration
	claimMinIdle time.Duration
	logger       *utils.Logger
	metrics      *metrics.Metrics
}

// NewWorker creates a Worker. A missing consumer name is generated from
// the group and the current time.
func NewWorker(d *RedisDispatcher, runner JobRunner, opts WorkerOptions, logger *utils.Logger, m *metrics.Metrics) *Worker {
	if opts.Group == "" {
		opts.Group = defaultGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = fmt.Sprintf("%s-%d", opts.Group, time.Now().UnixNano())
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = defaultBlockTimeout
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = defaultClaimMinIdle
	}
	return &Worker{
		dispatcher:   d,
		exec:         &executor{runner: runner, retry: opts.Retry, timeout: opts.JobTimeout},
		pool:         utils.NewWorkerPool(opts.MaxConcurrency, opts.RateLimitMs),
		group:        opts.Group,
		consumer:     opts.Consumer,
		batchSize:    int64(opts.MaxConcurrency),
		blockTimeout: opts.BlockTimeout,
		claimMinIdle: opts.ClaimMinIdle,
		logger:       logger,
		metrics:      m,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("[worker] %s consuming %s (group %s)", w.consumer, w.dispatcher.Stream(), w.group)

	for ctx.Err() == nil {
		if _, err := w.consume(ctx, w.blockTimeout); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("[worker] Read failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
		}
	}

	w.logger.Info("[worker] %s stopped", w.consumer)
	return nil
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	err := w.dispatcher.client.XGroupCreateMkStream(ctx, w.dispatcher.Stream(), w.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("worker: create consumer group %s: %w", w.group, err)
	}
	return nil
}

// consume processes messages left idle by crashed consumers, or else one
// batch of new messages, and waits for them to finish. A negative block
// does not wait for messages.
func (w *Worker) consume(ctx context.Context, block time.Duration) (int, error) {
	msgs := w.reclaimIdle(ctx)
	if len(msgs) == 0 {
		streams, err := w.dispatcher.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.group,
			Consumer: w.consumer,
			Streams:  []string{w.dispatcher.Stream(), ">"},
			Count:    w.batchSize,
			Block:    block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("worker: read stream: %w", err)
		}
		for _, s := range streams {
			msgs = append(msgs, s.Messages...)
		}
	}

	for _, msg := range msgs {
		msg := msg
		w.pool.Submit(func() { w.process(ctx, msg) })
	}
	w.pool.Wait()
	return len(msgs), nil
}

func (w *Worker) reclaimIdle(ctx context.Context) []redis.XMessage {
	pending, err := w.dispatcher.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: w.dispatcher.Stream(),
		Group:  w.group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
		Idle:   w.claimMinIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	msgs, err := w.dispatcher.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   w.dispatcher.Stream(),
		Group:    w.group,
		Consumer: w.consumer,
		MinIdle:  w.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		w.logger.Warn("[worker] Claim of %d idle jobs failed: %v", len(ids), err)
		return nil
	}
	if len(msgs) > 0 {
		w.logger.Info("[worker] Reclaimed %d idle jobs", len(msgs))
	}
	return msgs
}

// process runs one job and acknowledges it once its state is stored. A job
// interrupted by shutdown is left unacknowledged for redelivery.
func (w *Worker) process(ctx context.Context, msg redis.XMessage) {
	handle, index, item, err := decodeMessage(msg)
	if err != nil {
		w.logger.Warn("[worker] Dropping malformed message %s: %v", msg.ID, err)
		w.ack(ctx, msg.ID)
		return
	}

	state := w.exec.execute(ctx, item)
	if ctx.Err() != nil {
		return
	}

	if state.Status == JobFailed {
		w.logger.Warn("[worker] Job %s for %s failed: %s", item.Store, handle, state.Error)
	} else {
		w.logger.Info("[worker] Job %s for %s returned %d records", item.Store, handle, len(state.Records))
	}
	w.metrics.IncScrapeJob(item.Store, string(state.Status))

	if err := w.dispatcher.Complete(ctx, handle, index, state); err != nil {
		if !errors.Is(err, ErrHandleNotFound) {
			w.logger.Error("[worker] Storing job %s for %s: %v", item.Store, handle, err)
			return
		}
		w.logger.Debug("[worker] Batch %s expired before job %s finished", handle, item.Store)
	}
	w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.dispatcher.client.XAck(ctx, w.dispatcher.Stream(), w.group, id).Err(); err != nil {
		w.logger.Error("[worker] Ack %s: %v", id, err)
	}
}

func decodeMessage(msg redis.XMessage) (string, int, WorkItem, error) {
	str := func(key string) string {
		s, _ := msg.Values[key].(string)
		return s
	}

	handle := str(fieldHandle)
	item := WorkItem{Store: str(fieldStore), Query: str(fieldQuery), Country: str(fieldCountry)}
	if handle == "" || item.Store == "" {
		return "", 0, WorkItem{}, errors.New("missing handle or store")
	}
	index, err := strconv.Atoi(str(fieldIndex))
	if err != nil || index < 0 {
		return "", 0, WorkItem{}, fmt.Errorf("invalid index %q", str(fieldIndex))
	}
	return handle, index, item, nil
}
