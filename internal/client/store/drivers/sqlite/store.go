package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db         *sql.DB
	dsn        string
	queueLimit int
}

// DSN builds a modernc.org/sqlite DSN for a database file with WAL journaling
// and a busy timeout so a concurrent writer waits instead of failing.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
}

// NewStore opens the database at dsn. queueLimit bounds unsynced records in
// the offline queue; values < 1 use store.DefaultQueueLimit.
func NewStore(dsn string, queueLimit int) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection serialises writers; sqlite only allows one at a time
	// anyway and this keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	if queueLimit < 1 {
		queueLimit = store.DefaultQueueLimit
	}

	return &Store{
		db:         db,
		dsn:        dsn,
		queueLimit: queueLimit,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	return newTx(tx, s.queueLimit), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return storageErr("commit", tx.Commit())
}

func (s *Store) scope() scope { return scope{q: s.db, queueLimit: s.queueLimit} }

func (s *Store) Entities(p domain.Partition) store.Entities { return s.scope().entities(p) }
func (s *Store) SyncQueue() store.SyncQueue                 { return s.scope().syncQueue() }
func (s *Store) Preferences() store.Preferences             { return s.scope().preferences() }

func (s *Store) Put(ctx context.Context, p domain.Partition, rec store.Record) error {
	return s.scope().put(ctx, p, rec)
}

func (s *Store) GetAll(ctx context.Context, p domain.Partition) ([]store.Record, error) {
	return s.scope().getAll(ctx, p)
}

func (s *Store) Remove(ctx context.Context, p domain.Partition, id string) error {
	return s.scope().remove(ctx, p, id)
}

// Clear empties every listed partition atomically.
func (s *Store) Clear(ctx context.Context, partitions ...domain.Partition) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Clear(ctx, partitions...)
	})
}

// storageErr wraps a driver failure as a StorageFailure so callers never
// have to know which driver is underneath.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewStorageFailure(fmt.Errorf("sqlite: %s: %w", op, err))
}

func mapNotFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return storageErr(op, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// blob makes sure a nil body is stored as an empty blob rather than NULL.
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
