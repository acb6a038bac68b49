// Package postgres implements a storage backend on PostgreSQL, for deployments where several
// client processes on one host share a database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
	_ "github.com/lib/pq"
)

const (
	defaultTableName = "mailsync_records"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Store implements storage.Backend with one row per record.  Each statement touches a single row,
// which gives per-key atomicity without explicit transactions.
type Store struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

var _ storage.Backend = &Store{}

// New creates a postgres backend from the `dsn` parameter.  The optional `table` parameter
// overrides the table name.  The connection is opened lazily on first use.
func New(cfg config.Storage) (storage.Backend, error) {
	dsn := strings.TrimSpace(cfg.Params["dsn"])
	if dsn == "" {
		return nil, errors.New("'dsn' parameter not specified")
	}
	table := strings.TrimSpace(cfg.Params["table"])
	if table == "" {
		table = defaultTableName
	}
	return &Store{
		dsn:       dsn,
		tableName: table,
		openDB:    sql.Open,
	}, nil
}

// Get returns the keyed record.
func (s *Store) Get(f storage.Family, key string) (*storage.Record, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT payload, fetched_at FROM %s WHERE family = $1 AND record_key = $2",
		quoteIdentifier(s.tableName))
	rec := &storage.Record{Family: f, Key: key}
	err := s.db.QueryRowContext(ctx, query, string(f), key).Scan(&rec.Payload, &rec.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return rec, nil
}

// Put upserts the keyed record.
func (s *Store) Put(rec *storage.Record) error {
	if err := storage.ValidFamily(rec.Family); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (family, record_key, payload, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (family, record_key)
		DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		quoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, string(rec.Family), rec.Key, rec.Payload, rec.FetchedAt.UTC())
	return err
}

// Remove deletes the keyed record.
func (s *Store) Remove(f storage.Family, key string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE family = $1 AND record_key = $2",
		quoteIdentifier(s.tableName))
	res, err := s.db.ExecContext(ctx, query, string(f), key)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotExist
	}
	return nil
}

// Clear deletes every record.
func (s *Store) Clear() error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdentifier(s.tableName)))
	return err
}

// Count returns the number of records in the family.
func (s *Store) Count(f storage.Family) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE family = $1", quoteIdentifier(s.tableName))
	err := s.db.QueryRowContext(ctx, query, string(f)).Scan(&n)
	return n, err
}

// Close closes the database connection, if it was opened.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				family TEXT NOT NULL,
				record_key TEXT NOT NULL,
				payload BYTEA NOT NULL,
				fetched_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (family, record_key)
			)`, quoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
