package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/models"
	"price-aggregator/utils"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisDispatcher) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDispatcher(client, RedisOptions{Prefix: "test", TTL: time.Hour}, utils.NewNopLogger())
	return mr, d
}

func newTestWorker(d *RedisDispatcher, runner JobRunner) *Worker {
	return NewWorker(d, runner, WorkerOptions{Consumer: "w1", MaxConcurrency: 2}, utils.NewNopLogger(), nil)
}

func TestRedisDispatchPublishesJobs(t *testing.T) {
	mr, d := setupRedis(t)
	ctx := context.Background()

	handle, err := d.Dispatch(ctx, Batch{Query: "notebook", Country: "MX", Stores: []string{"mercadolibre", "amazon"}})
	require.NoError(t, err)

	entries, err := mr.Stream(d.Stream())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	snap, err := d.Poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "notebook", snap.Query)
	assert.Equal(t, "MX", snap.Country)
	assert.Equal(t, 2, snap.Total())
	assert.Equal(t, 0, snap.Completed())
	assert.Equal(t, "mercadolibre", snap.Jobs[0].Store)
	assert.Equal(t, "amazon", snap.Jobs[1].Store)
}

func TestRedisPollUnknownHandle(t *testing.T) {
	_, d := setupRedis(t)

	_, err := d.Poll(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrHandleNotFound)
}

func TestRedisBatchExpires(t *testing.T) {
	mr, d := setupRedis(t)
	ctx := context.Background()

	handle, err := d.Dispatch(ctx, Batch{Query: "q", Country: "US", Stores: []string{"ebay"}})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = d.Poll(ctx, handle)
	assert.ErrorIs(t, err, ErrHandleNotFound)
	err = d.Complete(ctx, handle, 0, JobState{Store: "ebay", Status: JobSucceeded})
	assert.ErrorIs(t, err, ErrHandleNotFound)
	assert.False(t, mr.Exists(d.jobsKey(handle)), "an expired batch must not get its jobs hash back")
}

func TestRedisCompleteKeepsBatchLifetime(t *testing.T) {
	mr, d := setupRedis(t)
	ctx := context.Background()

	handle, err := d.Dispatch(ctx, Batch{Query: "q", Country: "US", Stores: []string{"ebay", "amazon"}})
	require.NoError(t, err)

	mr.FastForward(20 * time.Minute)
	mr.Del(d.jobsKey(handle))

	require.NoError(t, d.Complete(ctx, handle, 1, JobState{Store: "amazon", Status: JobSucceeded}))

	ttl := mr.TTL(d.jobsKey(handle))
	assert.Positive(t, ttl, "a recreated jobs hash expires with its batch")
	assert.LessOrEqual(t, ttl, mr.TTL(d.batchKey(handle)))

	snap, err := d.Poll(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, snap.Jobs[1].Status)
	assert.Equal(t, JobPending, snap.Jobs[0].Status)

	mr.FastForward(time.Hour)
	assert.False(t, mr.Exists(d.jobsKey(handle)))
}

func TestWorkerProcessesJobs(t *testing.T) {
	_, d := setupRedis(t)
	ctx := context.Background()

	runner := JobRunnerFunc(func(_ context.Context, item WorkItem) ([]models.RawRecord, error) {
		if item.Store == "amazon" {
			return nil, errors.New("captcha")
		}
		return []models.RawRecord{{
			models.KeyURL:   "https://articulo.mercadolibre.com.mx/MLM-1",
			models.KeyPrice: "$ 12,999",
		}}, nil
	})
	w := newTestWorker(d, runner)
	require.NoError(t, w.ensureGroup(ctx))

	handle, err := d.Dispatch(ctx, Batch{Query: "notebook", Country: "MX", Stores: []string{"mercadolibre", "amazon"}})
	require.NoError(t, err)

	n, err := w.consume(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap, err := d.Poll(ctx, handle)
	require.NoError(t, err)
	require.True(t, snap.Done())

	ml := snap.Jobs[0]
	assert.Equal(t, JobSucceeded, ml.Status)
	require.Len(t, ml.Records, 1)
	price, ok := ml.Records[0].String(models.KeyPrice)
	assert.True(t, ok)
	assert.Equal(t, "$ 12,999", price)

	assert.Equal(t, JobFailed, snap.Jobs[1].Status)
	assert.Contains(t, snap.Jobs[1].Error, "captcha")

	assertNothingPending(t, d, w)
}

func TestWorkerIdleStream(t *testing.T) {
	_, d := setupRedis(t)
	ctx := context.Background()
	w := newTestWorker(d, echoRunner())
	require.NoError(t, w.ensureGroup(ctx))
	require.NoError(t, w.ensureGroup(ctx), "creating the group twice is not an error")

	n, err := w.consume(ctx, -1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerDropsMalformedMessages(t *testing.T) {
	_, d := setupRedis(t)
	ctx := context.Background()
	w := newTestWorker(d, echoRunner())
	require.NoError(t, w.ensureGroup(ctx))

	err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.Stream(),
		Values: map[string]any{fieldStore: "ebay"},
	}).Err()
	require.NoError(t, err)

	n, err := w.consume(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assertNothingPending(t, d, w)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	_, d := setupRedis(t)
	w := NewWorker(d, echoRunner(), WorkerOptions{BlockTimeout: 10 * time.Millisecond}, utils.NewNopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func assertNothingPending(t *testing.T, d *RedisDispatcher, w *Worker) {
	t.Helper()
	pending, err := d.client.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: d.Stream(),
		Group:  w.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	require.NoError(t, err)
	assert.Empty(t, pending, "every message should be acknowledged")
}
