package storage

import (
	"context"
	"errors"

	"price-aggregator/models"
)

// ErrNotFound is returned by readers when nothing is stored under a handle.
var ErrNotFound = errors.New("storage: not found")

// ResultWriter is the interface any archive backend must satisfy.
// Write is called once per finished aggregation.
type ResultWriter interface {
	Write(ctx context.Context, result *models.SearchResult) error
	Close() error
}

// ResultReader is implemented by archives that can serve a finished
// aggregation back after it left the queue.
type ResultReader interface {
	Read(ctx context.Context, handle string) (*models.SearchResult, error)
}

// RawRecordWriter is the interface for persisting unprocessed scraped data.
type RawRecordWriter interface {
	WriteRaw(handle string, records []models.RawRecord) error
	Close() error
}
