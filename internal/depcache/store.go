package depcache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/sconehq/scone/internal/recipe"
)

// Store persists Books keyed by (recipe kind, paramhash), mirroring the
// original's `dishcache` SQLite table. One Store is shared by every worker
// in a kitchen run.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed Store at path. Use
// ":memory:" for an ephemeral, process-local cache, as a fresh cook run
// with no history might.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("depcache: open %s: %w", path, err)
	}
	// The sqlite driver serializes writes internally; a single connection
	// avoids SQLITE_BUSY from concurrent workers racing separate connections.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS dishcache (
	recipe_kind TEXT NOT NULL,
	paramhash   TEXT NOT NULL,
	dep_book    BLOB NOT NULL,
	renewed_at  INTEGER NOT NULL,
	PRIMARY KEY (recipe_kind, paramhash)
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("depcache: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Paramhash computes rec's cache key, combining its registered kind with
// the SHA-256 of the canonical CBOR encoding of its (arguments, sous, user)
// triple, so two recipes are only ever considered the same cached unit of
// work when both their kind and every parameter that could affect the
// outcome match exactly.
func Paramhash(rec recipe.Recipe) (kind, hash string, err error) {
	kind, err = kindOf(rec)
	if err != nil {
		return "", "", err
	}
	hash, err = paramhash(rec)
	if err != nil {
		return "", "", err
	}
	return kind, hash, nil
}

// Inquire looks up the Book previously registered for (kind, paramhash). The
// second return value is false if no entry exists yet — a cold cache, not
// an error.
func (s *Store) Inquire(ctx context.Context, kind, paramhash string) (Book, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT dep_book FROM dishcache WHERE recipe_kind = ? AND paramhash = ?`,
		kind, paramhash,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return Book{}, false, nil
	}
	if err != nil {
		return Book{}, false, fmt.Errorf("depcache: inquire %s/%s: %w", kind, paramhash, err)
	}

	var book Book
	if err := cbor.Unmarshal(blob, &book); err != nil {
		return Book{}, false, fmt.Errorf("depcache: decode cached book for %s/%s: %w", kind, paramhash, err)
	}
	return book, true, nil
}

// Register upserts book as the current cache entry for (kind, paramhash),
// stamping renewedAt as its freshness marker.
func (s *Store) Register(ctx context.Context, kind, paramhash string, book Book, renewedAt int64) error {
	blob, err := marshalCanonical(book)
	if err != nil {
		return fmt.Errorf("depcache: encode book for %s/%s: %w", kind, paramhash, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO dishcache (recipe_kind, paramhash, dep_book, renewed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (recipe_kind, paramhash) DO UPDATE SET
	dep_book = excluded.dep_book,
	renewed_at = excluded.renewed_at
`, kind, paramhash, blob, renewedAt)
	if err != nil {
		return fmt.Errorf("depcache: register %s/%s: %w", kind, paramhash, err)
	}
	return nil
}

// Renew bumps the freshness marker for (kind, paramhash) to renewedAt
// without touching its stored Book, for a cook that confirmed its cached
// result still applies without recomputing anything.
func (s *Store) Renew(ctx context.Context, kind, paramhash string, renewedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dishcache SET renewed_at = ? WHERE recipe_kind = ? AND paramhash = ?`,
		renewedAt, kind, paramhash,
	)
	if err != nil {
		return fmt.Errorf("depcache: renew %s/%s: %w", kind, paramhash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("depcache: renew %s/%s: %w", kind, paramhash, err)
	}
	if n == 0 {
		return fmt.Errorf("depcache: renew %s/%s: no such entry", kind, paramhash)
	}
	return nil
}

// SweepOld deletes every entry whose renewed_at predates cutoff, pruning
// cache rows for recipes that have disappeared from the menu or haven't
// been cooked in a long time.
func (s *Store) SweepOld(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dishcache WHERE renewed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("depcache: sweep: %w", err)
	}
	return res.RowsAffected()
}
