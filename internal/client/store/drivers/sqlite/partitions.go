package sqlite

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
)

// Each partition is its own table so a failed write to one can never touch
// another.
var tables = map[domain.Partition]string{
	domain.PartitionCart:        "cart_items",
	domain.PartitionOrders:      "order_snapshots",
	domain.PartitionProducts:    "products",
	domain.PartitionSyncQueue:   "sync_queue",
	domain.PartitionPreferences: "preferences",
}

func unknownPartition(p domain.Partition) error {
	return domain.NewConfigurationFailure(fmt.Errorf("%w: %q", store.ErrUnknownPartition, p))
}

// scope binds repositories to either the database or an open transaction.
type scope struct {
	q          querier
	queueLimit int
}

func (s scope) entities(p domain.Partition) store.Entities {
	if !p.IsEntity() {
		return badEntities{p: p}
	}
	return &entitiesRepo{q: s.q, partition: p, table: tables[p]}
}

func (s scope) syncQueue() store.SyncQueue {
	return &syncQueueRepo{q: s.q, limit: s.queueLimit}
}

func (s scope) preferences() store.Preferences {
	return &preferencesRepo{q: s.q}
}

func (s scope) put(ctx context.Context, p domain.Partition, rec store.Record) error {
	switch {
	case p.IsEntity():
		return s.entities(p).Put(ctx, store.EntityFromRecord(p, rec))
	case p == domain.PartitionSyncQueue:
		r, err := store.OfflineFromRecord(rec)
		if err != nil {
			return err
		}
		return s.syncQueue().Put(ctx, r)
	case p == domain.PartitionPreferences:
		return s.preferences().Set(ctx, store.PreferenceFromRecord(rec))
	}
	return unknownPartition(p)
}

func (s scope) getAll(ctx context.Context, p domain.Partition) ([]store.Record, error) {
	switch {
	case p.IsEntity():
		entities, err := s.entities(p).GetAll(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]store.Record, 0, len(entities))
		for _, e := range entities {
			out = append(out, store.RecordFromEntity(e))
		}
		return out, nil

	case p == domain.PartitionSyncQueue:
		records, err := s.syncQueue().All(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]store.Record, 0, len(records))
		for _, r := range records {
			out = append(out, store.RecordFromOffline(r))
		}
		return out, nil

	case p == domain.PartitionPreferences:
		prefs, err := s.preferences().All(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]store.Record, 0, len(prefs))
		for _, pref := range prefs {
			out = append(out, store.RecordFromPreference(pref))
		}
		return out, nil
	}
	return nil, unknownPartition(p)
}

func (s scope) remove(ctx context.Context, p domain.Partition, id string) error {
	switch {
	case p.IsEntity():
		return s.entities(p).Remove(ctx, id)
	case p == domain.PartitionSyncQueue:
		_, err := s.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
		return storageErr("remove sync record", err)
	case p == domain.PartitionPreferences:
		return s.preferences().Remove(ctx, id)
	}
	return unknownPartition(p)
}

func (s scope) clear(ctx context.Context, partitions []domain.Partition) error {
	for _, p := range partitions {
		table, ok := tables[p]
		if !ok {
			return unknownPartition(p)
		}
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("clear "+p.String(), err)
		}
	}
	return nil
}
