package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/models"
	"price-aggregator/utils"
)

func echoRunner() JobRunner {
	return JobRunnerFunc(func(_ context.Context, item WorkItem) ([]models.RawRecord, error) {
		return []models.RawRecord{{models.KeySource: item.Store, models.KeyTitle: item.Query}}, nil
	})
}

func TestMemoryDispatcherRunsEveryJob(t *testing.T) {
	d := NewMemoryDispatcher(echoRunner(), MemoryOptions{MaxConcurrency: 2}, utils.NewNopLogger(), nil)

	handle, err := d.Dispatch(context.Background(), Batch{Query: "tv", Country: "AR", Stores: []string{"mercadolibre", "fravega"}})
	require.NoError(t, err)
	d.Wait()

	snap, err := d.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, "tv", snap.Query)
	assert.Equal(t, "AR", snap.Country)
	assert.True(t, snap.Done())
	assert.Equal(t, 2, snap.Completed())
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, "mercadolibre", snap.Jobs[0].Store)
	assert.Equal(t, "fravega", snap.Jobs[1].Store)
	for _, j := range snap.Jobs {
		assert.Equal(t, JobSucceeded, j.Status)
		assert.Len(t, j.Records, 1)
	}
}

func TestMemoryDispatcherRecordsFailures(t *testing.T) {
	runner := JobRunnerFunc(func(_ context.Context, item WorkItem) ([]models.RawRecord, error) {
		switch item.Store {
		case "broken":
			return nil, errors.New("timeout waiting for selector")
		case "crashing":
			panic("chrome exited")
		}
		return nil, nil
	})
	d := NewMemoryDispatcher(runner, MemoryOptions{MaxConcurrency: 3}, utils.NewNopLogger(), nil)

	handle, err := d.Dispatch(context.Background(), Batch{Query: "q", Country: "US", Stores: []string{"ok", "broken", "crashing"}})
	require.NoError(t, err)
	d.Wait()

	snap, err := d.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, snap.Jobs[0].Status)
	assert.NotNil(t, snap.Jobs[0].Records)
	assert.Equal(t, JobFailed, snap.Jobs[1].Status)
	assert.Contains(t, snap.Jobs[1].Error, "timeout waiting for selector")
	assert.Equal(t, JobFailed, snap.Jobs[2].Status)
	assert.Contains(t, snap.Jobs[2].Error, "panicked")
	assert.False(t, snap.AllFailed())
}

func TestMemoryDispatcherRetries(t *testing.T) {
	var calls atomic.Int32
	runner := JobRunnerFunc(func(context.Context, WorkItem) ([]models.RawRecord, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("flaky")
		}
		return []models.RawRecord{{}}, nil
	})
	opts := MemoryOptions{Retry: &utils.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}}
	d := NewMemoryDispatcher(runner, opts, utils.NewNopLogger(), nil)

	handle, err := d.Dispatch(context.Background(), Batch{Query: "q", Country: "US", Stores: []string{"amazon"}})
	require.NoError(t, err)
	d.Wait()

	snap, err := d.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, snap.Jobs[0].Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryDispatcherPollIsNonBlocking(t *testing.T) {
	release := make(chan struct{})
	runner := JobRunnerFunc(func(context.Context, WorkItem) ([]models.RawRecord, error) {
		<-release
		return nil, nil
	})
	d := NewMemoryDispatcher(runner, MemoryOptions{MaxConcurrency: 1}, utils.NewNopLogger(), nil)

	handle, err := d.Dispatch(context.Background(), Batch{Query: "q", Country: "US", Stores: []string{"a", "b"}})
	require.NoError(t, err)

	snap, err := d.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.False(t, snap.Done())
	assert.Equal(t, 0, snap.Completed())
	assert.Equal(t, 2, snap.Total())

	close(release)
	d.Wait()
}

func TestMemoryDispatcherUnknownAndExpiredHandles(t *testing.T) {
	d := NewMemoryDispatcher(echoRunner(), MemoryOptions{TTL: 20 * time.Millisecond}, utils.NewNopLogger(), nil)

	_, err := d.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrHandleNotFound)

	handle, err := d.Dispatch(context.Background(), Batch{Query: "q", Country: "US", Stores: []string{"a"}})
	require.NoError(t, err)
	d.Wait()

	time.Sleep(30 * time.Millisecond)
	_, err = d.Poll(context.Background(), handle)
	assert.ErrorIs(t, err, ErrHandleNotFound)
}

func TestSnapshotAllFailed(t *testing.T) {
	assert.False(t, (&Snapshot{}).AllFailed())
	assert.True(t, (&Snapshot{Jobs: []JobState{{Status: JobFailed}, {Status: JobFailed}}}).AllFailed())
	assert.False(t, (&Snapshot{Jobs: []JobState{{Status: JobFailed}, {Status: JobPending}}}).AllFailed())
}
