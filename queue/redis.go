package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"price-aggregator/utils"
)

const (
	defaultPrefix = "pricing"
	defaultStream = "scrape-jobs"
	defaultTTL    = time.Hour

	fieldHandle  = "handle"
	fieldIndex   = "index"
	fieldStore   = "store"
	fieldQuery   = "query"
	fieldCountry = "country"
	fieldTotal   = "total"
	fieldCreated = "created_at"
)

// RedisOptions configures a RedisDispatcher.
type RedisOptions struct {
	Prefix string        // key prefix for batch hashes
	Stream string        // stream the jobs are published to
	TTL    time.Duration // lifetime of a batch and its results
	MaxLen int64         // stream trim length, 0 keeps everything
}

// RedisDispatcher publishes one stream entry per job and keeps batch state
// in two hashes: <prefix>:agg:<handle> for the batch and
// <prefix>:agg:<handle>:jobs for the per-job state, keyed by job index.
// Any API replica sharing the Redis instance can poll any handle.
type RedisDispatcher struct {
	client *redis.Client
	prefix string
	stream string
	ttl    time.Duration
	maxLen int64
	logger *utils.Logger
}

// NewRedisDispatcher creates a dispatcher on an existing client.
func NewRedisDispatcher(client *redis.Client, opts RedisOptions, logger *utils.Logger) *RedisDispatcher {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Stream == "" {
		opts.Stream = defaultStream
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	return &RedisDispatcher{
		client: client,
		prefix: opts.Prefix,
		stream: opts.Prefix + ":" + opts.Stream,
		ttl:    opts.TTL,
		maxLen: opts.MaxLen,
		logger: logger,
	}
}

// Stream returns the full stream name workers consume.
func (d *RedisDispatcher) Stream() string { return d.stream }

func (d *RedisDispatcher) batchKey(handle string) string { return d.prefix + ":agg:" + handle }
func (d *RedisDispatcher) jobsKey(handle string) string  { return d.batchKey(handle) + ":jobs" }

// Dispatch records the batch and publishes its jobs in one transaction.
func (d *RedisDispatcher) Dispatch(ctx context.Context, batch Batch) (string, error) {
	handle := uuid.NewString()
	items := batch.Items()

	pending := make(map[string]any, len(items))
	for i, item := range items {
		data, err := json.Marshal(JobState{Store: item.Store, Status: JobPending})
		if err != nil {
			return "", fmt.Errorf("queue: encode job state: %w", err)
		}
		pending[strconv.Itoa(i)] = data
	}

	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.batchKey(handle),
			fieldQuery, batch.Query,
			fieldCountry, batch.Country,
			fieldTotal, len(items),
			fieldCreated, time.Now().UTC().Format(time.RFC3339),
		)
		if len(pending) > 0 {
			pipe.HSet(ctx, d.jobsKey(handle), pending)
		}
		pipe.Expire(ctx, d.batchKey(handle), d.ttl)
		pipe.Expire(ctx, d.jobsKey(handle), d.ttl)

		for i, item := range items {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: d.stream,
				MaxLen: d.maxLen,
				Values: map[string]any{
					fieldHandle:  handle,
					fieldIndex:   i,
					fieldStore:   item.Store,
					fieldQuery:   item.Query,
					fieldCountry: item.Country,
				},
			})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("queue: dispatch batch: %w", err)
	}

	d.logger.Info("[queue] Published %d jobs to %s, handle %s", len(items), d.stream, handle)
	return handle, nil
}

// Poll reads the batch and the state of every job. Jobs without a stored
// state are pending.
func (d *RedisDispatcher) Poll(ctx context.Context, handle string) (*Snapshot, error) {
	meta, err := d.client.HGetAll(ctx, d.batchKey(handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read batch %s: %w", handle, err)
	}
	if len(meta) == 0 {
		return nil, ErrHandleNotFound
	}

	fields, err := d.client.HGetAll(ctx, d.jobsKey(handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read jobs of %s: %w", handle, err)
	}

	total, err := strconv.Atoi(meta[fieldTotal])
	if err != nil || total < 0 {
		return nil, fmt.Errorf("queue: batch %s has invalid total %q", handle, meta[fieldTotal])
	}

	snap := &Snapshot{
		Handle:  handle,
		Query:   meta[fieldQuery],
		Country: meta[fieldCountry],
		Jobs:    make([]JobState, total),
	}
	for i := range snap.Jobs {
		raw, ok := fields[strconv.Itoa(i)]
		if !ok {
			snap.Jobs[i] = JobState{Status: JobPending}
			continue
		}
		var st JobState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			d.logger.Warn("[queue] Corrupt state for job %d of %s: %v", i, handle, err)
			st = JobState{Status: JobFailed, Error: "corrupt job state"}
		}
		snap.Jobs[i] = st
	}
	return snap, nil
}

// completeScript stores a job state only while the batch exists and keeps the
// jobs hash on the batch's remaining lifetime.
var completeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`)

// Complete stores the final state of one job. It returns ErrHandleNotFound
// when the batch has already expired.
func (d *RedisDispatcher) Complete(ctx context.Context, handle string, index int, state JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("queue: encode job state: %w", err)
	}

	stored, err := completeScript.Run(ctx, d.client,
		[]string{d.batchKey(handle), d.jobsKey(handle)},
		strconv.Itoa(index), data,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: store job %d of %s: %w", index, handle, err)
	}
	if stored == 0 {
		return ErrHandleNotFound
	}
	return nil
}
