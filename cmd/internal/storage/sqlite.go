package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a SQLite database at path and runs migrations.
//
// The pool is pinned to a single connection: SQLite has one writer anyway, and a single
// connection keeps every BEGIN IMMEDIATE transaction strictly serialized.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// UnixNano is the INTEGER encoding used for timestamps in the SQLite schema.
func UnixNano(t time.Time) int64 { return t.UTC().UnixNano() }

// FromUnixNano decodes a SQLite INTEGER timestamp.
func FromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
