package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"price-aggregator/models"
)

// csvColumns are the record keys written, in order, after handle and
// scraped_at. Keys outside this list are not dumped.
var csvColumns = []string{
	models.KeySource,
	models.KeyCountryCode,
	models.KeyTitle,
	models.KeyURL,
	models.KeyImageURL,
	models.KeyPrice,
	models.KeyPriceNumeric,
	models.KeyPriceBefore,
	models.KeyPriceBeforeNumeric,
	models.KeyIsDiscounted,
	models.KeyCurrencyCode,
	models.KeyRatingStr,
	models.KeyReviewsCountStr,
}

// CSVWriter appends raw (unnormalized) records to a CSV file, one row per
// record, so scraper output can be inspected when selectors drift.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	now    func() time.Time
}

// NewCSVWriter opens the CSV file at path for appending, creating it and
// writing the header row when it is new. Intermediate directories are
// created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		header := append([]string{"handle", "scraped_at"}, csvColumns...)
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w, now: time.Now}, nil
}

// WriteRaw appends one row per record under handle.
func (c *CSVWriter) WriteRaw(handle string, records []models.RawRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scrapedAt := c.now().UTC().Format(time.RFC3339)
	for _, r := range records {
		row := make([]string, 0, len(csvColumns)+2)
		row = append(row, handle, scrapedAt)
		for _, key := range csvColumns {
			row = append(row, cell(r, key))
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func cell(r models.RawRecord, key string) string {
	if s, ok := r.String(key); ok {
		return s
	}
	if v, ok := r[key].(bool); ok {
		return fmt.Sprint(v)
	}
	return ""
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}
