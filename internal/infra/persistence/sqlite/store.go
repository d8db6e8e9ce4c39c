// Package sqlite provides an embedded SQLite-backed persistent store. The
// in-memory store stays authoritative for reads and every commit is written
// through to one row per record.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"dynastycore/internal/infra/persistence/memory"
	"dynastycore/internal/infra/persistence/relational"
	"dynastycore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "dynasty.db"

// Dialect is the sqlite flavour of the relational layout.
var Dialect = relational.Dialect{
	Name:        "sqlite",
	PayloadType: "BLOB",
	Placeholder: func(int) string { return "?" },
}

// Store persists the family graph to a SQLite database file.
type Store struct {
	*memory.Store
	db    *sql.DB
	path  string
	stale atomic.Bool
}

// NewStore opens (or creates) the database at path and hydrates the in-memory
// state from it.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := relational.EnsureSchema(ctx, db, Dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(engine, append(opts, memory.WithCommitHook(s.persist))...)
	if err := s.reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) persist(ctx context.Context, writes []memory.Write) error {
	err := relational.Persist(ctx, s.db, Dialect, writes)
	if memory.IsConflict(err) {
		s.stale.Store(true)
	}
	return err
}

func (s *Store) reload(ctx context.Context) error {
	snapshot, err := relational.LoadSnapshot(ctx, s.db)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

// RunInTransaction applies fn and writes the commit through to SQLite. When
// another process advanced a row first, the in-memory state is refreshed before
// the conflict is returned so a retry observes the new rows.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil && s.stale.CompareAndSwap(true, false) {
		if rerr := s.reload(ctx); rerr != nil {
			return res, domain.StorageError{Op: "reload", Err: rerr}
		}
	}
	return res, err
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
