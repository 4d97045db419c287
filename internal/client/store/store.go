package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/pkg/idx"
)

var (
	ErrNotFound         = errors.New("store: not found")
	ErrQueueFull        = errors.New("store: offline queue is full")
	ErrAlreadySynced    = errors.New("store: record already synced")
	ErrUnknownPartition = errors.New("store: unknown partition")
)

// DefaultQueueLimit bounds the number of unsynced records in the offline
// queue. Enqueue past the bound is rejected rather than evicting older
// mutations.
const DefaultQueueLimit = 1000

// Record is the partition-agnostic view used by Put/GetAll. Kind and Synced
// only mean something in the syncQueue partition; for preferences ID is the
// key and Body the value.
type Record struct {
	ID        string          `json:"id"`
	Kind      domain.Kind     `json:"kind,omitempty"`
	Body      json.RawMessage `json:"body"`
	Timestamp time.Time       `json:"timestamp"`
	Synced    bool            `json:"synced,omitempty"`
}

// Store is the on-device durable store. Each partition is independent and
// every write is transactional, so an interrupted put is never half visible.
// Drivers surface failures as domain.StorageFailure errors.
type Store interface {
	Entities(p domain.Partition) Entities
	SyncQueue() SyncQueue
	Preferences() Preferences

	// Put inserts or overwrites rec in partition p by its identifier.
	Put(ctx context.Context, p domain.Partition, rec Record) error
	// GetAll returns every record in partition p.
	GetAll(ctx context.Context, p domain.Partition) ([]Record, error)
	// Remove deletes id from p. Removing an absent id succeeds.
	Remove(ctx context.Context, p domain.Partition, id string) error
	// Clear empties the given partitions in a single transaction.
	Clear(ctx context.Context, partitions ...domain.Partition) error

	// ApplyMigrations brings the schema up to date. Run once at startup.
	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Entities holds cached server entities for one partition.
type Entities interface {
	Put(ctx context.Context, e domain.CachedEntity) error
	Get(ctx context.Context, id string) (domain.CachedEntity, error)
	// GetAll returns entities most recently refreshed first.
	GetAll(ctx context.Context) ([]domain.CachedEntity, error)
	Remove(ctx context.Context, id string) error
	// EvictOlderThan drops entities last refreshed before cutoff.
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncQueue holds offline records awaiting replay.
type SyncQueue interface {
	// Enqueue inserts a new record, failing with ErrQueueFull once the
	// number of unsynced records reaches the configured limit.
	Enqueue(ctx context.Context, r domain.OfflineRecord) error
	// Put inserts or overwrites by ID. It never clears a set synced flag.
	Put(ctx context.Context, r domain.OfflineRecord) error
	Get(ctx context.Context, id idx.ID) (domain.OfflineRecord, error)
	// Pending returns unsynced records, oldest first.
	Pending(ctx context.Context) ([]domain.OfflineRecord, error)
	// All returns every record, oldest first.
	All(ctx context.Context) ([]domain.OfflineRecord, error)
	// MarkSynced flips synced false→true. ErrAlreadySynced if it was set,
	// ErrNotFound if the record is gone.
	MarkSynced(ctx context.Context, id idx.ID, at time.Time) error
	Remove(ctx context.Context, id idx.ID) error
	// PurgeSynced deletes synced records synced before cutoff.
	PurgeSynced(ctx context.Context, cutoff time.Time) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

// Preferences holds small device-local settings.
type Preferences interface {
	Set(ctx context.Context, p domain.Preference) error
	Get(ctx context.Context, key string) (domain.Preference, error)
	All(ctx context.Context) ([]domain.Preference, error)
	Remove(ctx context.Context, key string) error
}

// EntityFromRecord converts a generic record into a cached entity of p.
func EntityFromRecord(p domain.Partition, rec Record) domain.CachedEntity {
	return domain.CachedEntity{
		ID:          rec.ID,
		Partition:   p,
		Body:        rec.Body,
		RefreshedAt: stamp(rec.Timestamp),
	}
}

func RecordFromEntity(e domain.CachedEntity) Record {
	return Record{ID: e.ID, Body: e.Body, Timestamp: e.RefreshedAt}
}

// OfflineFromRecord converts a generic record into an offline record. The ID
// must be a valid ULID.
func OfflineFromRecord(rec Record) (domain.OfflineRecord, error) {
	id, err := idx.Parse(rec.ID)
	if err != nil {
		return domain.OfflineRecord{}, domain.NewConfigurationFailure(fmt.Errorf("offline record id %q: %w", rec.ID, err))
	}
	if !rec.Kind.Valid() {
		return domain.OfflineRecord{}, domain.NewConfigurationFailure(fmt.Errorf("offline record kind %q is unknown", rec.Kind))
	}

	out := domain.OfflineRecord{
		ID:        id,
		Kind:      rec.Kind,
		Payload:   rec.Body,
		CreatedAt: stamp(rec.Timestamp),
		Synced:    rec.Synced,
	}
	if rec.Synced {
		now := time.Now().UTC()
		out.SyncedAt = &now
	}
	return out, nil
}

func RecordFromOffline(r domain.OfflineRecord) Record {
	return Record{
		ID:        r.ID.String(),
		Kind:      r.Kind,
		Body:      r.Payload,
		Timestamp: r.CreatedAt,
		Synced:    r.Synced,
	}
}

func PreferenceFromRecord(rec Record) domain.Preference {
	return domain.Preference{Key: rec.ID, Value: rec.Body, UpdatedAt: stamp(rec.Timestamp)}
}

func RecordFromPreference(p domain.Preference) Record {
	return Record{ID: p.Key, Body: p.Value, Timestamp: p.UpdatedAt}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
