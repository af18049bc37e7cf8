package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink replaces a run's rows in one transaction per flush.
type PostgresSink struct {
	pool  pgPool
	table string
}

// NewPostgresSink connects and makes sure the table exists.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("output.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresSinkWithPool(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkWithPool builds a sink on an existing pool.
func NewPostgresSinkWithPool(pool pgPool, table string) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Name implements Sink.
func (s *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id         TEXT        NOT NULL,
	product_url    TEXT        NOT NULL,
	market         TEXT        NOT NULL,
	category       TEXT        NOT NULL,
	category_page  TEXT        NOT NULL,
	fetched_at     TIMESTAMPTZ NOT NULL,
	content_sha256 TEXT        NOT NULL,
	html           TEXT        NOT NULL,
	PRIMARY KEY (run_id, product_url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (uri string, err error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", s.table), run.ID); err != nil {
		return "", fmt.Errorf("delete previous rows: %w", err)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	product_url,
	market,
	category,
	category_page,
	fetched_at,
	content_sha256,
	html
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.table)
	for _, r := range records {
		if _, err = tx.Exec(ctx, insert,
			run.ID,
			r.ProductURL,
			r.Market,
			r.Category,
			r.CategoryPage,
			time.Unix(r.FetchedAt, 0).UTC(),
			r.ContentSHA256,
			r.HTML,
		); err != nil {
			return "", fmt.Errorf("insert %s: %w", r.ProductURL, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return fmt.Sprintf("postgres:%s?run_id=%s", s.table, run.ID), nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
