// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while writing every commit through to per-record rows.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"dynastycore/internal/infra/persistence/memory"
	"dynastycore/internal/infra/persistence/relational"
	"dynastycore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/dynasty?sslmode=disable"
)

// Dialect is the postgres flavour of the relational layout.
var Dialect = relational.Dialect{
	Name:        "postgres",
	PayloadType: "JSONB",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db    *sql.DB
	stale atomic.Bool
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the record tables exist and hydrates the in-memory store from them.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := relational.EnsureSchema(ctx, db, Dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
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

// RunInTransaction applies fn and writes the commit through to Postgres,
// refreshing the in-memory state when another writer advanced a row first.
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

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
