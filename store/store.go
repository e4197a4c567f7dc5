// Package store is a content-addressed cache of compiled programs backed by
// SQLite. Programs are keyed by the SHA-256 of their template source and
// stored in the textual binary program format.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/stencil/vm"
)

var log = commonlog.GetLogger("stencil.store")

// Store caches compiled programs in a SQLite database.
type Store struct {
	db   *sql.DB
	path string

	// Serializes writers; SQLite allows one at a time
	mu sync.Mutex
}

// Open opens (creating if needed) the cache database at path. The path
// ":memory:" gives a private in-memory cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash       TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		source_len INTEGER NOT NULL,
		binary     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened program cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Key returns the cache key of a template source.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached program for source. A row that no longer decodes
// (or whose source does not match) counts as a miss.
func (s *Store) Get(ctx context.Context, source string) (*vm.Program, bool, error) {
	var binary string
	err := s.db.QueryRowContext(ctx, "SELECT binary FROM programs WHERE hash = ?", Key(source)).Scan(&binary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	p, err := vm.Decode([]byte(binary))
	if err != nil {
		log.Warningf("discarding undecodable cache entry %s: %s", Key(source)[:12], err)
		return nil, false, nil
	}
	if p.Source != source {
		log.Warningf("discarding cache entry %s for a different source", Key(source)[:12])
		return nil, false, nil
	}
	return p, true, nil
}

// Put stores p under the key of its source, replacing any existing row.
func (s *Store) Put(ctx context.Context, name string, p *vm.Program) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encoding program %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (hash, name, source_len, binary, created_at) VALUES (?, ?, ?, ?, ?)",
		Key(p.Source), name, len(p.Source), string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program %s: %w", name, err)
	}
	return nil
}

// Compile returns the cached program for source, or compiles it with
// compile and caches the result. Compile errors are not cached.
func (s *Store) Compile(ctx context.Context, name, source string, compile func(string) (*vm.Program, error)) (*vm.Program, error) {
	p, ok, err := s.Get(ctx, source)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Debugf("cache hit for %s", name)
		return p, nil
	}

	p, err = compile(source)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ctx, name, p); err != nil {
		return nil, err
	}
	log.Debugf("cached %s (%d instructions)", name, p.Len())
	return p, nil
}

// Entry describes one cached program.
type Entry struct {
	Hash      string
	Name      string
	SourceLen int
	CreatedAt time.Time
}

// List returns the cached entries, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hash, name, source_len, created_at FROM programs ORDER BY created_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Hash, &e.Name, &e.SourceLen, &created); err != nil {
			return nil, fmt.Errorf("scanning program row: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Len returns the number of cached programs.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Purge deletes every cached program and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM programs")
	if err != nil {
		return 0, fmt.Errorf("purging programs: %w", err)
	}
	return res.RowsAffected()
}
