package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTable = "zortex_state"
	postgresOpTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

// PostgresStateBackend stores each document as its own row keyed by
// state_key, so the registry, areas, and season land in one table and
// a save replaces all three atomically.
type PostgresStateBackend struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStateBackend(dsn string) *PostgresStateBackend {
	return &PostgresStateBackend{
		dsn:       dsn,
		tableName: postgresStateTable,
		openDB:    sql.Open,
	}
}

func (b *PostgresStateBackend) ensureReady(ctx context.Context) error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = fmt.Errorf("open postgres: %w", err)
			return
		}
		pingCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			b.initErr = fmt.Errorf("ping postgres: %w", err)
			return
		}
		createStmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	state_key TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, postgresQuoteIdentifier(b.tableName))
		createCtx, createCancel := context.WithTimeout(ctx, postgresOpTimeout)
		defer createCancel()
		if _, err := db.ExecContext(createCtx, createStmt); err != nil {
			db.Close()
			b.initErr = fmt.Errorf("create state table: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}

func (b *PostgresStateBackend) Load() (*Snapshot, error) {
	ctx := context.Background()
	if err := b.ensureReady(ctx); err != nil {
		return nil, &PersistenceError{Op: "load", Key: b.tableName, Err: err}
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT state_key, document FROM %s WHERE state_key IN ($1, $2, $3)",
		postgresQuoteIdentifier(b.tableName),
	)
	rows, err := b.db.QueryContext(opCtx, query, DocRegistry, DocAreas, DocSeason)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Key: b.tableName, Err: err}
	}
	defer rows.Close()

	raw := map[string][]byte{}
	for rows.Next() {
		var key, document string
		if err := rows.Scan(&key, &document); err != nil {
			return nil, &PersistenceError{Op: "load", Key: b.tableName, Err: err}
		}
		raw[key] = []byte(document)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Key: b.tableName, Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	snap := emptySnapshot()
	if data, ok := raw[DocRegistry]; ok {
		doc, err := decodeRegistryDoc(data)
		if err != nil {
			return nil, err
		}
		snap.Registry = doc
	}
	if data, ok := raw[DocAreas]; ok {
		doc, err := decodeAreasDoc(data)
		if err != nil {
			return nil, err
		}
		snap.Areas = doc
	}
	if data, ok := raw[DocSeason]; ok {
		doc, err := decodeSeasonDoc(data)
		if err != nil {
			return nil, err
		}
		snap.Season = doc
	}
	return snap, nil
}

func (b *PostgresStateBackend) Save(snap *Snapshot) error {
	if snap == nil {
		return &PersistenceError{Op: "save", Key: b.tableName, Err: errors.New("nil snapshot")}
	}
	ctx := context.Background()
	if err := b.ensureReady(ctx); err != nil {
		return &PersistenceError{Op: "save", Key: b.tableName, Err: err}
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOpTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(opCtx, nil)
	if err != nil {
		return &PersistenceError{Op: "save", Key: b.tableName, Err: err}
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s (state_key, document, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (state_key) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		postgresQuoteIdentifier(b.tableName))
	docs := []struct {
		key string
		val any
	}{
		{DocRegistry, snap.Registry},
		{DocAreas, snap.Areas},
		{DocSeason, snap.Season},
	}
	for _, doc := range docs {
		data, err := json.Marshal(doc.val)
		if err != nil {
			return &PersistenceError{Op: "save", Key: doc.key, Err: err}
		}
		if _, err := tx.ExecContext(opCtx, stmt, doc.key, string(data)); err != nil {
			return &PersistenceError{Op: "save", Key: doc.key, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save", Key: b.tableName, Err: err}
	}
	return nil
}

func (b *PostgresStateBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
