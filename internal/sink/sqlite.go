package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// DefaultSQLitePath is where the SQLite sink keeps its database.
const DefaultSQLitePath = "data/products.db"

// SQLiteSink keeps every run's rows in a local database file.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id         TEXT    NOT NULL,
	product_url    TEXT    NOT NULL,
	market         TEXT    NOT NULL,
	category       TEXT    NOT NULL,
	category_page  TEXT    NOT NULL,
	fetched_at     INTEGER NOT NULL,
	content_sha256 TEXT    NOT NULL,
	html           TEXT    NOT NULL,
	PRIMARY KEY (run_id, product_url)
);
CREATE INDEX IF NOT EXISTS idx_%s_market ON %s(market);`, DefaultTable, DefaultTable, DefaultTable)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (uri string, err error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM "+DefaultTable+" WHERE run_id = ?", run.ID); err != nil {
		return "", fmt.Errorf("delete previous rows: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+DefaultTable+`
	(run_id, product_url, market, category, category_page, fetched_at, content_sha256, html)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			run.ID, r.ProductURL, r.Market, r.Category, r.CategoryPage, r.FetchedAt, r.ContentSHA256, r.HTML,
		); err != nil {
			return "", fmt.Errorf("insert %s: %w", r.ProductURL, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return fmt.Sprintf("sqlite://%s?run_id=%s", filepath.ToSlash(s.path), run.ID), nil
}

// Count returns how many rows a run holds.
func (s *SQLiteSink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+DefaultTable+" WHERE run_id = ?", runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
