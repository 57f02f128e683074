package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestPostgresBackendOpenFailureIsSticky(t *testing.T) {
	backend := NewPostgresStateBackend("postgres://nobody@nowhere/zortex")
	calls := 0
	backend.openDB = func(driver, dsn string) (*sql.DB, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	_, err := backend.Load()
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError from load, got %v", err)
	}
	if err := backend.Save(emptySnapshot()); err == nil {
		t.Fatal("expected save error when open fails")
	}
	if calls != 1 {
		t.Fatalf("openDB called %d times, want 1", calls)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	if got := postgresQuoteIdentifier("zortex_state"); got != `"zortex_state"` {
		t.Fatalf("quote = %s", got)
	}
	if got := postgresQuoteIdentifier(`odd"name`); got != `"odd""name"` {
		t.Fatalf("quote with embedded quote = %s", got)
	}
}

// Round trip against a live database. Set ZORTEXD_TEST_POSTGRES_DSN to
// run; each run uses a throwaway table.
func TestPostgresBackendRoundTrip(t *testing.T) {
	dsn := os.Getenv("ZORTEXD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ZORTEXD_TEST_POSTGRES_DSN not set")
	}

	backend := NewPostgresStateBackend(dsn)
	backend.tableName = fmt.Sprintf("zortex_state_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		if backend.db != nil {
			backend.db.Exec("DROP TABLE IF EXISTS " + postgresQuoteIdentifier(backend.tableName))
		}
		backend.Close()
	})

	snap, err := backend.Load()
	if err != nil {
		t.Fatalf("load empty table: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot from empty table, got %+v", snap)
	}

	if err := backend.Save(sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.Registry.Tasks["ab3x9"].XPAwarded != 20 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.Season.Current == nil || loaded.Season.Current.Name != "Winter Arc" {
		t.Fatalf("season round trip mismatch: %+v", loaded.Season)
	}

	next := sampleSnapshot()
	next.Areas.XP["Life"] = 80
	if err := backend.Save(next); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, err = backend.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := loaded.Areas.XP["Life"]; got != 80 {
		t.Fatalf("Life xp after overwrite = %d, want 80", got)
	}

	var rows int
	if err := backend.db.QueryRow(
		"SELECT COUNT(*) FROM " + postgresQuoteIdentifier(backend.tableName),
	).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 3 {
		t.Fatalf("state table has %d rows, want 3", rows)
	}
}
