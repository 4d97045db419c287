package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/pkg/idx"
)

type syncQueueRepo struct {
	q     querier
	limit int
}

const syncQueueColumns = `id, kind, payload, created_at, synced, synced_at`

func (r *syncQueueRepo) Enqueue(ctx context.Context, rec domain.OfflineRecord) error {
	if rec.Synced {
		return domain.NewConfigurationFailure(fmt.Errorf("cannot enqueue already synced record %s", rec.ID))
	}
	if err := validateOffline(rec); err != nil {
		return err
	}

	// Count and insert in one statement so the bound holds without a
	// separate transaction.
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO sync_queue (`+syncQueueColumns+`)
		 SELECT ?, ?, ?, ?, 0, NULL
		 WHERE (SELECT COUNT(*) FROM sync_queue WHERE synced = 0) < ?`,
		rec.ID.String(), string(rec.Kind), blob(rec.Payload), toNanos(rec.CreatedAt), r.limit,
	)
	if isUniqueViolation(err) {
		return domain.NewConfigurationFailure(fmt.Errorf("offline record %s already queued", rec.ID))
	}
	if err != nil {
		return storageErr("enqueue", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("enqueue", err)
	}
	if n == 0 {
		return domain.NewStorageFailure(fmt.Errorf("%w (limit %d)", store.ErrQueueFull, r.limit))
	}
	return nil
}

func (r *syncQueueRepo) Put(ctx context.Context, rec domain.OfflineRecord) error {
	if err := validateOffline(rec); err != nil {
		return err
	}

	syncedAt := rec.SyncedAt
	if rec.Synced && syncedAt == nil {
		now := time.Now().UTC()
		syncedAt = &now
	}

	// synced = MAX(old, new): an overwrite can set the flag but never clear it.
	res, err := r.q.ExecContext(ctx,
		`UPDATE sync_queue
		 SET kind = ?, payload = ?, created_at = ?,
		     synced = MAX(synced, ?),
		     synced_at = CASE WHEN synced = 1 THEN synced_at ELSE ? END
		 WHERE id = ?`,
		string(rec.Kind), blob(rec.Payload), toNanos(rec.CreatedAt),
		boolInt(rec.Synced), nullNanos(syncedAt), rec.ID.String(),
	)
	if err != nil {
		return storageErr("put sync record", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("put sync record", err)
	} else if n > 0 {
		return nil
	}

	if !rec.Synced {
		return r.Enqueue(ctx, rec)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO sync_queue (`+syncQueueColumns+`) VALUES (?, ?, ?, ?, 1, ?)`,
		rec.ID.String(), string(rec.Kind), blob(rec.Payload), toNanos(rec.CreatedAt), nullNanos(syncedAt),
	)
	return storageErr("put sync record", err)
}

func (r *syncQueueRepo) Get(ctx context.Context, id idx.ID) (domain.OfflineRecord, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+syncQueueColumns+` FROM sync_queue WHERE id = ?`, id.String())

	rec, err := scanOffline(row)
	if err != nil {
		return domain.OfflineRecord{}, mapNotFound("get sync record", err)
	}
	return rec, nil
}

func (r *syncQueueRepo) Pending(ctx context.Context) ([]domain.OfflineRecord, error) {
	return r.list(ctx, "pending",
		`SELECT `+syncQueueColumns+` FROM sync_queue WHERE synced = 0 ORDER BY created_at, id`)
}

func (r *syncQueueRepo) All(ctx context.Context) ([]domain.OfflineRecord, error) {
	return r.list(ctx, "list",
		`SELECT `+syncQueueColumns+` FROM sync_queue ORDER BY created_at, id`)
}

func (r *syncQueueRepo) list(ctx context.Context, op, query string) ([]domain.OfflineRecord, error) {
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr(op+" sync records", err)
	}
	defer rows.Close()

	var out []domain.OfflineRecord
	for rows.Next() {
		rec, err := scanOffline(rows)
		if err != nil {
			return nil, storageErr("scan sync record", err)
		}
		out = append(out, rec)
	}
	return out, storageErr(op+" sync records", rows.Err())
}

func (r *syncQueueRepo) MarkSynced(ctx context.Context, id idx.ID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE sync_queue SET synced = 1, synced_at = ? WHERE id = ? AND synced = 0`,
		toNanos(at), id.String(),
	)
	if err != nil {
		return storageErr("mark synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark synced", err)
	}
	if n == 1 {
		return nil
	}

	var synced int
	err = r.q.QueryRowContext(ctx, `SELECT synced FROM sync_queue WHERE id = ?`, id.String()).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return storageErr("mark synced", err)
	}
	return store.ErrAlreadySynced
}

func (r *syncQueueRepo) Remove(ctx context.Context, id idx.ID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id.String())
	return storageErr("remove sync record", err)
}

func (r *syncQueueRepo) PurgeSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE synced = 1 AND synced_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, storageErr("purge synced", err)
	}
	n, err := res.RowsAffected()
	return n, storageErr("purge synced", err)
}

func (r *syncQueueRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&n)
	return n, storageErr("count pending", err)
}

func validateOffline(rec domain.OfflineRecord) error {
	if rec.ID.IsZero() {
		return domain.NewConfigurationFailure(errors.New("offline record id must not be empty"))
	}
	if !rec.Kind.Valid() {
		return domain.NewConfigurationFailure(fmt.Errorf("offline record kind %q is unknown", rec.Kind))
	}
	return nil
}

func scanOffline(s scanner) (domain.OfflineRecord, error) {
	var (
		id, kind string
		payload  []byte
		created  int64
		synced   int
		syncedAt sql.NullInt64
	)
	if err := s.Scan(&id, &kind, &payload, &created, &synced, &syncedAt); err != nil {
		return domain.OfflineRecord{}, err
	}

	return domain.OfflineRecord{
		ID:        idx.ID(id),
		Kind:      domain.Kind(kind),
		Payload:   json.RawMessage(payload),
		CreatedAt: fromNanos(created),
		Synced:    synced == 1,
		SyncedAt:  fromNullNanos(syncedAt),
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
