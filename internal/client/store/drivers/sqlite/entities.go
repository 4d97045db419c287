package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
)

type entitiesRepo struct {
	q         querier
	partition domain.Partition
	table     string
}

func (r *entitiesRepo) Put(ctx context.Context, e domain.CachedEntity) error {
	if e.ID == "" {
		return domain.NewConfigurationFailure(errors.New("cached entity id must not be empty"))
	}
	refreshed := e.RefreshedAt
	if refreshed.IsZero() {
		refreshed = time.Now()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO `+r.table+` (id, body, refreshed_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, refreshed_at = excluded.refreshed_at`,
		e.ID, blob(e.Body), toNanos(refreshed),
	)
	return storageErr("put "+r.partition.String(), err)
}

func (r *entitiesRepo) Get(ctx context.Context, id string) (domain.CachedEntity, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, body, refreshed_at FROM `+r.table+` WHERE id = ?`, id)

	e, err := r.scan(row)
	if err != nil {
		return domain.CachedEntity{}, mapNotFound("get "+r.partition.String(), err)
	}
	return e, nil
}

func (r *entitiesRepo) GetAll(ctx context.Context) ([]domain.CachedEntity, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, body, refreshed_at FROM `+r.table+` ORDER BY refreshed_at DESC, id`)
	if err != nil {
		return nil, storageErr("list "+r.partition.String(), err)
	}
	defer rows.Close()

	var out []domain.CachedEntity
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, storageErr("scan "+r.partition.String(), err)
		}
		out = append(out, e)
	}
	return out, storageErr("list "+r.partition.String(), rows.Err())
}

func (r *entitiesRepo) Remove(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE id = ?`, id)
	return storageErr("remove "+r.partition.String(), err)
}

func (r *entitiesRepo) EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE refreshed_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, storageErr("evict "+r.partition.String(), err)
	}
	n, err := res.RowsAffected()
	return n, storageErr("evict "+r.partition.String(), err)
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *entitiesRepo) scan(s scanner) (domain.CachedEntity, error) {
	var (
		e         domain.CachedEntity
		body      []byte
		refreshed int64
	)
	if err := s.Scan(&e.ID, &body, &refreshed); err != nil {
		return domain.CachedEntity{}, err
	}
	e.Partition = r.partition
	e.Body = json.RawMessage(body)
	e.RefreshedAt = fromNanos(refreshed)
	return e, nil
}

// badEntities is handed out for partitions that do not hold entities so that
// misuse fails loudly on first call.
type badEntities struct {
	p domain.Partition
}

func (b badEntities) Put(context.Context, domain.CachedEntity) error { return unknownPartition(b.p) }
func (b badEntities) Get(context.Context, string) (domain.CachedEntity, error) {
	return domain.CachedEntity{}, unknownPartition(b.p)
}
func (b badEntities) GetAll(context.Context) ([]domain.CachedEntity, error) {
	return nil, unknownPartition(b.p)
}
func (b badEntities) Remove(context.Context, string) error { return unknownPartition(b.p) }
func (b badEntities) EvictOlderThan(context.Context, time.Time) (int64, error) {
	return 0, unknownPartition(b.p)
}
