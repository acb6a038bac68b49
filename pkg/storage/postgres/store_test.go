package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/inbucket/mailsync/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integrationCounter uint64

func TestNewRequiresDSN(t *testing.T) {
	s, err := New(config.Storage{})
	require.ErrorContains(t, err, "'dsn' parameter not specified")
	assert.Nil(t, s)
}

func TestOpenFailureIsUnavailable(t *testing.T) {
	b, err := New(config.Storage{Params: map[string]string{"dsn": "postgres://nowhere"}})
	require.NoError(t, err)
	s := b.(*Store)
	s.openDB = func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("boom")
	}

	_, err = s.Get(storage.FamilyPages, "INBOX")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	err = s.Put(&storage.Record{Family: storage.FamilyPages, Key: "INBOX", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"mailsync_records"`, quoteIdentifier("mailsync_records"))
	assert.Equal(t, `"we""ird"`, quoteIdentifier(`we"ird`))
	assert.Equal(t, `""`, quoteIdentifier("  "))
}

func TestIntegrationSuite(t *testing.T) {
	dsn := integrationDSN(t)
	test.StoreSuite(t, func(conf config.Storage) (storage.Backend, func(), error) {
		table := integrationTableName("mailsync_records_it")
		b, err := New(config.Storage{Params: map[string]string{"dsn": dsn, "table": table}})
		if err != nil {
			return nil, nil, err
		}
		destroy := func() {
			_ = b.Close()
			integrationDropTable(t, dsn, table)
		}
		return b, destroy, nil
	})
}

func integrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("MAILSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set MAILSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func integrationTableName(prefix string) string {
	n := atomic.AddUint64(&integrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func integrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
