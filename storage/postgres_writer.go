package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"price-aggregator/models"
)

const listingColumns = 15

// PostgresWriter archives finished aggregations to PostgreSQL and reads
// them back by handle.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	return NewPostgresWriterWithDB(db)
}

// NewPostgresWriterWithDB wraps an open handle and runs schema migrations.
func NewPostgresWriterWithDB(db *sql.DB) (*PostgresWriter, error) {
	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS searches (
			handle        TEXT         PRIMARY KEY,
			query         TEXT         NOT NULL,
			country       VARCHAR(8)   NOT NULL,
			jobs          INTEGER      NOT NULL DEFAULT 0,
			listing_count INTEGER      NOT NULL DEFAULT 0,
			summary       JSONB,
			finished_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS search_listings (
			handle           TEXT          NOT NULL REFERENCES searches(handle) ON DELETE CASCADE,
			position         INTEGER       NOT NULL,
			title            TEXT          NOT NULL DEFAULT '',
			url              TEXT          NOT NULL,
			source           VARCHAR(50)   NOT NULL DEFAULT '',
			image_url        TEXT,
			price            NUMERIC(14,2),
			price_display    TEXT,
			currency         VARCHAR(8),
			price_before     NUMERIC(14,2),
			rating           NUMERIC(4,2)  NOT NULL DEFAULT 0,
			reviews_count    INTEGER       NOT NULL DEFAULT 0,
			on_sale          BOOLEAN       NOT NULL DEFAULT FALSE,
			discount_percent NUMERIC(6,2),
			similarity_score INTEGER       NOT NULL DEFAULT 0,
			PRIMARY KEY (handle, position)
		);

		CREATE INDEX IF NOT EXISTS idx_searches_query       ON searches(query, country);
		CREATE INDEX IF NOT EXISTS idx_search_listings_url  ON search_listings(url);
		CREATE INDEX IF NOT EXISTS idx_search_listings_price ON search_listings(price);
	`)
	return err
}

// Write stores one finished aggregation and its ranked listings in a single
// transaction. Writing a handle that is already archived is a no-op.
func (pw *PostgresWriter) Write(ctx context.Context, result *models.SearchResult) error {
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("postgres: encode summary: %w", err)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO searches (handle, query, country, jobs, listing_count, summary, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (handle) DO NOTHING
	`, result.Handle, result.Query, result.Country, result.Jobs, len(result.Listings), summary, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert search: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(result.Listings); i += batchSize {
		end := i + batchSize
		if end > len(result.Listings) {
			end = len(result.Listings)
		}
		if err := insertBatch(ctx, tx, result.Handle, i, result.Listings[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, handle string, offset int, batch []*models.Listing) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*listingColumns)

	for idx, l := range batch {
		base := idx * listingColumns
		placeholders := make([]string, listingColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			handle, offset+idx, l.Title, l.URL, l.Source, l.ImageURL,
			l.PriceNumeric, l.PriceDisplay, l.Currency, l.PriceBeforeNumeric,
			l.Rating, l.ReviewsCount, l.OnSale, l.DiscountPercent, l.SimilarityScore)
	}

	query := fmt.Sprintf(`
		INSERT INTO search_listings (handle, position, title, url, source, image_url,
			price, price_display, currency, price_before,
			rating, reviews_count, on_sale, discount_percent, similarity_score)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert listings: %w", err)
	}
	return nil
}

// Read loads an archived aggregation with its listings in ranked order.
// It returns ErrNotFound for unknown handles.
func (pw *PostgresWriter) Read(ctx context.Context, handle string) (*models.SearchResult, error) {
	result := &models.SearchResult{Handle: handle}
	var summary []byte

	err := pw.db.QueryRowContext(ctx, `
		SELECT query, country, jobs, summary, finished_at
		FROM searches
		WHERE handle = $1
	`, handle).Scan(&result.Query, &result.Country, &result.Jobs, &summary, &result.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read search: %w", err)
	}
	if len(summary) > 0 && string(summary) != "null" {
		result.Summary = &models.Summary{}
		if err := json.Unmarshal(summary, result.Summary); err != nil {
			return nil, fmt.Errorf("postgres: decode summary: %w", err)
		}
	}

	rows, err := pw.db.QueryContext(ctx, `
		SELECT title, url, source, image_url, price, price_display, currency,
			price_before, rating, reviews_count, on_sale, discount_percent, similarity_score
		FROM search_listings
		WHERE handle = $1
		ORDER BY position
	`, handle)
	if err != nil {
		return nil, fmt.Errorf("postgres: read listings: %w", err)
	}
	defer rows.Close()

	result.Listings = make([]*models.Listing, 0)
	for rows.Next() {
		l := &models.Listing{}
		var image, display, currency sql.NullString
		var price, before, discount sql.NullFloat64
		if err := rows.Scan(
			&l.Title, &l.URL, &l.Source, &image, &price, &display, &currency,
			&before, &l.Rating, &l.ReviewsCount, &l.OnSale, &discount, &l.SimilarityScore,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		l.ImageURL = nullString(image)
		l.PriceDisplay = nullString(display)
		l.Currency = nullString(currency)
		l.PriceNumeric = nullFloat(price)
		l.PriceBeforeNumeric = nullFloat(before)
		l.DiscountPercent = nullFloat(discount)
		result.Listings = append(result.Listings, l)
	}
	return result, rows.Err()
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
