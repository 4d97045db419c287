package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
)

type preferencesRepo struct {
	q querier
}

func (r *preferencesRepo) Set(ctx context.Context, p domain.Preference) error {
	if p.Key == "" {
		return domain.NewConfigurationFailure(errors.New("preference key must not be empty"))
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		p.Key, blob(p.Value), toNanos(updated),
	)
	return storageErr("set preference", err)
}

func (r *preferencesRepo) Get(ctx context.Context, key string) (domain.Preference, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM preferences WHERE key = ?`, key)

	p, err := scanPreference(row)
	if err != nil {
		return domain.Preference{}, mapNotFound("get preference", err)
	}
	return p, nil
}

func (r *preferencesRepo) All(ctx context.Context) ([]domain.Preference, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT key, value, updated_at FROM preferences ORDER BY key`)
	if err != nil {
		return nil, storageErr("list preferences", err)
	}
	defer rows.Close()

	var out []domain.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, storageErr("scan preference", err)
		}
		out = append(out, p)
	}
	return out, storageErr("list preferences", rows.Err())
}

func (r *preferencesRepo) Remove(ctx context.Context, key string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key)
	return storageErr("remove preference", err)
}

func scanPreference(s scanner) (domain.Preference, error) {
	var (
		p       domain.Preference
		updated int64
	)
	if err := s.Scan(&p.Key, &p.Value, &updated); err != nil {
		return domain.Preference{}, err
	}
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}
