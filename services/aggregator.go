package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"price-aggregator/metrics"
	"price-aggregator/models"
	"price-aggregator/queue"
	"price-aggregator/storage"
	"price-aggregator/utils"
)

var (
	// ErrEmptyQuery is returned when a search has no query text.
	ErrEmptyQuery = errors.New("aggregator: empty query")
	// ErrNoEligibleStores is returned synchronously when no store serves
	// the requested country. Nothing is dispatched in that case.
	ErrNoEligibleStores = errors.New("aggregator: no eligible stores")
)

const (
	defaultMaxCached      = 1000
	defaultPersistTimeout = 30 * time.Second
)

// StoreRouter maps a country code to the stores that serve it.
type StoreRouter interface {
	StoresFor(country string) []string
}

// AggregatorOptions holds the optional collaborators of an Aggregator.
type AggregatorOptions struct {
	Archive   storage.ResultWriter
	RawDump   storage.RawRecordWriter
	MaxCached int

	// PersistTimeout bounds the archive write of one finished search.
	PersistTimeout time.Duration
}

// Aggregator fans a search out to one scrape job per store and merges the
// job outputs into one ranked, deduplicated result set.
type Aggregator struct {
	dispatcher queue.Dispatcher
	router     StoreRouter
	normalizer *Normalizer
	insights   *InsightService
	archive    storage.ResultWriter
	rawDump    storage.RawRecordWriter
	logger     *utils.Logger
	metrics    *metrics.Metrics

	maxCached      int
	persistTimeout time.Duration
	persisting     sync.WaitGroup

	mu       sync.Mutex
	finished map[string]*models.SearchStatus
	order    []string
}

// NewAggregator wires an Aggregator. router may be nil when callers only
// use Aggregate with an explicit store list.
func NewAggregator(d queue.Dispatcher, router StoreRouter, normalizer *Normalizer, logger *utils.Logger, m *metrics.Metrics, opts AggregatorOptions) *Aggregator {
	if opts.MaxCached <= 0 {
		opts.MaxCached = defaultMaxCached
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	return &Aggregator{
		dispatcher:     d,
		router:         router,
		normalizer:     normalizer,
		insights:       NewInsightService(logger),
		archive:        opts.Archive,
		rawDump:        opts.RawDump,
		logger:         logger,
		metrics:        m,
		maxCached:      opts.MaxCached,
		persistTimeout: opts.PersistTimeout,
		finished:       make(map[string]*models.SearchStatus),
	}
}

// Search looks up the stores serving country and starts an aggregation.
func (a *Aggregator) Search(ctx context.Context, query, country string) (string, error) {
	var stores []string
	if a.router != nil {
		stores = a.router.StoresFor(strings.ToUpper(strings.TrimSpace(country)))
	}
	return a.Aggregate(ctx, query, country, stores)
}

// Aggregate dispatches one job per store and returns the handle to poll.
func (a *Aggregator) Aggregate(ctx context.Context, query, country string, stores []string) (string, error) {
	query = strings.TrimSpace(query)
	country = strings.ToUpper(strings.TrimSpace(country))

	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(stores) == 0 {
		return "", fmt.Errorf("%w for country %q", ErrNoEligibleStores, country)
	}

	handle, err := a.dispatcher.Dispatch(ctx, queue.Batch{Query: query, Country: country, Stores: stores})
	if err != nil {
		return "", fmt.Errorf("aggregator: dispatch: %w", err)
	}

	a.logger.Info("[aggregator] Search %q (%s) dispatched to %v as %s", query, country, stores, handle)
	return handle, nil
}

// Poll reports the state of an aggregation without blocking. A finished
// handle is merged once; later polls return the memoized status.
func (a *Aggregator) Poll(ctx context.Context, handle string) *models.SearchStatus {
	if st := a.cached(handle); st != nil {
		return st
	}

	snap, err := a.dispatcher.Poll(ctx, handle)
	if errors.Is(err, queue.ErrHandleNotFound) {
		if st := a.fromArchive(ctx, handle); st != nil {
			return st
		}
		return &models.SearchStatus{Status: models.StatusFailure, Error: "search not found or expired"}
	}
	if err != nil {
		a.logger.Error("[aggregator] Poll %s: %v", handle, err)
		return &models.SearchStatus{Status: models.StatusFailure, Error: "search status unavailable, try again"}
	}

	if !snap.Done() {
		return &models.SearchStatus{
			Status:    models.StatusPending,
			Completed: snap.Completed(),
			Total:     snap.Total(),
		}
	}

	if snap.AllFailed() {
		st := &models.SearchStatus{
			Status:    models.StatusFailure,
			Error:     fmt.Sprintf("all %d store searches failed", snap.Total()),
			Completed: snap.Completed(),
			Total:     snap.Total(),
		}
		st, stored := a.remember(handle, st)
		if stored {
			a.logger.Warn("[aggregator] Search %s failed in every store", handle)
			a.metrics.IncSearch(string(models.StatusFailure))
		}
		return st
	}

	result, raw := a.merge(snap)
	st := &models.SearchStatus{
		Status:    models.StatusSuccess,
		Results:   result.Listings,
		Summary:   result.Summary,
		Completed: snap.Completed(),
		Total:     snap.Total(),
	}
	st, stored := a.remember(handle, st)
	if stored {
		a.logger.Info("[aggregator] Search %s finished: %d listings from %d records", handle, len(result.Listings), len(raw))
		a.metrics.IncSearch(string(models.StatusSuccess))
		a.metrics.ObserveListings(len(result.Listings))
		a.persist(ctx, result, raw)
	}
	return st
}

// merge flattens the job outputs in dispatch order, normalizes, dedupes and
// ranks them. Failed jobs contribute nothing.
func (a *Aggregator) merge(snap *queue.Snapshot) (*models.SearchResult, []models.RawRecord) {
	var raw []models.RawRecord
	var listings []*models.Listing

	for _, job := range snap.Jobs {
		if job.Status != queue.JobSucceeded {
			continue
		}
		raw = append(raw, job.Records...)
		for _, l := range a.normalizer.NormalizeAll(job.Records, snap.Country) {
			if l.Source == "" {
				l.Source = job.Store
			}
			listings = append(listings, l)
		}
	}

	unique := NewDeduplicator(a.logger, a.metrics).Dedupe(listings)
	Rank(unique, snap.Query)

	return &models.SearchResult{
		Handle:     snap.Handle,
		Query:      snap.Query,
		Country:    snap.Country,
		Jobs:       snap.Total(),
		Listings:   unique,
		Summary:    a.insights.Generate(unique),
		FinishedAt: time.Now().UTC(),
	}, raw
}

// persist writes the raw dump and the archive in the background so a slow
// store never holds up Poll. The archive write is bounded by persistTimeout.
func (a *Aggregator) persist(ctx context.Context, result *models.SearchResult, raw []models.RawRecord) {
	if a.rawDump == nil && a.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.persistTimeout)

	a.persisting.Add(1)
	go func() {
		defer a.persisting.Done()
		defer cancel()

		if a.rawDump != nil {
			if err := a.rawDump.WriteRaw(result.Handle, raw); err != nil {
				a.logger.Error("[aggregator] Raw dump for %s failed: %v", result.Handle, err)
			}
		}
		if a.archive != nil {
			if err := a.archive.Write(ctx, result); err != nil {
				a.logger.Error("[aggregator] Archive for %s failed: %v", result.Handle, err)
			}
		}
	}()
}

// Wait blocks until background archive writes have finished.
func (a *Aggregator) Wait() {
	a.persisting.Wait()
}

// fromArchive recovers a finished search whose jobs already expired from
// the queue, when the archive can be read back.
func (a *Aggregator) fromArchive(ctx context.Context, handle string) *models.SearchStatus {
	reader, ok := a.archive.(storage.ResultReader)
	if !ok {
		return nil
	}
	result, err := reader.Read(ctx, handle)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("[aggregator] Archive lookup for %s failed: %v", handle, err)
		}
		return nil
	}
	st, _ := a.remember(handle, &models.SearchStatus{
		Status:    models.StatusSuccess,
		Results:   result.Listings,
		Summary:   result.Summary,
		Completed: result.Jobs,
		Total:     result.Jobs,
	})
	return st
}

func (a *Aggregator) cached(handle string) *models.SearchStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished[handle]
}

// remember stores a terminal status unless a concurrent poll already did,
// and returns the status that is kept. stored is true for the first caller.
func (a *Aggregator) remember(handle string, st *models.SearchStatus) (kept *models.SearchStatus, stored bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.finished[handle]; ok {
		return prev, false
	}
	for len(a.order) >= a.maxCached {
		delete(a.finished, a.order[0])
		a.order = a.order[1:]
	}
	a.finished[handle] = st
	a.order = append(a.order, handle)
	return st, true
}
