package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"price-aggregator/models"
)

func newMockWriter(t *testing.T) (*PostgresWriter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS searches").WillReturnResult(sqlmock.NewResult(0, 0))

	pw, err := NewPostgresWriterWithDB(db)
	if err != nil {
		t.Fatalf("NewPostgresWriterWithDB() error = %v", err)
	}
	return pw, mock
}

func sampleResult() *models.SearchResult {
	price := 1299.99
	display := "$1,299.99"
	return &models.SearchResult{
		Handle:  "h1",
		Query:   "notebook",
		Country: "US",
		Jobs:    2,
		Listings: []*models.Listing{
			{Title: "Notebook 14", URL: "https://shop.test/1", Source: "ebay", PriceNumeric: &price, PriceDisplay: &display, Rating: 4.5, ReviewsCount: 120, SimilarityScore: 100},
			{Title: "Notebook case", URL: "https://shop.test/2", Source: "amazon"},
		},
		Summary:    &models.Summary{Total: 2, AveragePrice: 1299.99, BySource: map[string]int{"ebay": 1, "amazon": 1}},
		FinishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresWriter_Write(t *testing.T) {
	pw, mock := newMockWriter(t)
	result := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO searches").
		WithArgs("h1", "notebook", "US", 2, 2, sqlmock.AnyArg(), result.FinishedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO search_listings").
		WithArgs(
			"h1", 0, "Notebook 14", "https://shop.test/1", "ebay", nil,
			1299.99, "$1,299.99", nil, nil, 4.5, 120, false, nil, 100,
			"h1", 1, "Notebook case", "https://shop.test/2", "amazon", nil,
			nil, nil, nil, nil, 0.0, 0, false, nil, 0,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := pw.Write(context.Background(), result); err != nil {
		t.Errorf("Write() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresWriter_WriteAlreadyArchived(t *testing.T) {
	pw, mock := newMockWriter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO searches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := pw.Write(context.Background(), sampleResult()); err != nil {
		t.Errorf("Write() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresWriter_WriteRollsBackOnFailure(t *testing.T) {
	pw, mock := newMockWriter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO searches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO search_listings").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := pw.Write(context.Background(), sampleResult())
	if err == nil {
		t.Fatal("Write() expected an error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresWriter_Read(t *testing.T) {
	pw, mock := newMockWriter(t)
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM searches").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"query", "country", "jobs", "summary", "finished_at"}).
			AddRow("notebook", "US", 2, []byte(`{"total":1,"on_sale":0,"average_price":10,"min_price":10,"max_price":10,"by_source":{"ebay":1}}`), finished))
	mock.ExpectQuery("SELECT (.+) FROM search_listings").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{
			"title", "url", "source", "image_url", "price", "price_display", "currency",
			"price_before", "rating", "reviews_count", "on_sale", "discount_percent", "similarity_score",
		}).AddRow("Notebook 14", "https://shop.test/1", "ebay", nil, 10.0, "$10", "USD", 20.0, 4.5, 3, true, 50.0, 100))

	result, err := pw.Read(context.Background(), "h1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if result.Query != "notebook" || result.Jobs != 2 || !result.FinishedAt.Equal(finished) {
		t.Errorf("unexpected search row: %+v", result)
	}
	if result.Summary == nil || result.Summary.BySource["ebay"] != 1 {
		t.Errorf("summary not decoded: %+v", result.Summary)
	}
	if len(result.Listings) != 1 {
		t.Fatalf("listings = %d; want 1", len(result.Listings))
	}
	l := result.Listings[0]
	if l.ImageURL != nil {
		t.Errorf("ImageURL = %v; want nil", *l.ImageURL)
	}
	if l.PriceNumeric == nil || *l.PriceNumeric != 10 || l.DiscountPercent == nil || *l.DiscountPercent != 50 {
		t.Errorf("prices not scanned: %+v", l)
	}
	if !l.OnSale || l.SimilarityScore != 100 || *l.Currency != "USD" {
		t.Errorf("unexpected listing: %+v", l)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresWriter_ReadNotFound(t *testing.T) {
	pw, mock := newMockWriter(t)

	mock.ExpectQuery("SELECT (.+) FROM searches").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := pw.Read(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v; want ErrNotFound", err)
	}
}
