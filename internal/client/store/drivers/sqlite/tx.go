package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
)

type txStore struct {
	tx         *sql.Tx
	queueLimit int
}

func newTx(tx *sql.Tx, queueLimit int) *txStore {
	return &txStore{tx: tx, queueLimit: queueLimit}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // outer DB stays open

// Ping is a no-op for transactions. The connection is already established
// when the transaction is created, so we just return nil.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx

func (t *txStore) scope() scope { return scope{q: t.tx, queueLimit: t.queueLimit} }

func (t *txStore) Entities(p domain.Partition) store.Entities { return t.scope().entities(p) }
func (t *txStore) SyncQueue() store.SyncQueue                 { return t.scope().syncQueue() }
func (t *txStore) Preferences() store.Preferences             { return t.scope().preferences() }

func (t *txStore) Put(ctx context.Context, p domain.Partition, rec store.Record) error {
	return t.scope().put(ctx, p, rec)
}

func (t *txStore) GetAll(ctx context.Context, p domain.Partition) ([]store.Record, error) {
	return t.scope().getAll(ctx, p)
}

func (t *txStore) Remove(ctx context.Context, p domain.Partition, id string) error {
	return t.scope().remove(ctx, p, id)
}

func (t *txStore) Clear(ctx context.Context, partitions ...domain.Partition) error {
	return t.scope().clear(ctx, partitions)
}
