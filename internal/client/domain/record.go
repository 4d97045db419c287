package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/marketsync/pkg/idx"
)

// Kind classifies a queued mutation. Each kind replays against one fixed
// server endpoint.
type Kind string

const (
	KindOrder               Kind = "order"
	KindPayment             Kind = "payment"
	KindInventoryAdjustment Kind = "inventory_adjustment"
	KindCartUpdate          Kind = "cart_update"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOrder, KindPayment, KindInventoryAdjustment, KindCartUpdate:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// OfflineRecord is a mutation made while disconnected, waiting to be replayed.
// ID never changes; Synced goes from false to true once and stays there.
type OfflineRecord struct {
	ID        idx.ID          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Synced    bool            `json:"synced"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
}

// NewOfflineRecord stamps a new unsynced record with a fresh ID. The payload
// is opaque here but must be valid JSON since it is replayed as a request
// body.
func NewOfflineRecord(kind Kind, payload json.RawMessage) (OfflineRecord, error) {
	if !kind.Valid() {
		return OfflineRecord{}, NewConfigurationFailure(fmt.Errorf("unknown record kind %q", kind))
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return OfflineRecord{}, NewConfigurationFailure(fmt.Errorf("payload for %s is not valid JSON", kind))
	}

	now := time.Now().UTC()
	return OfflineRecord{
		ID:        idx.NewAt(now),
		Kind:      kind,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
	}, nil
}

// CachedEntity mirrors a server resource (cart item, order snapshot, catalog
// entry) for display. The server copy is always authoritative.
type CachedEntity struct {
	ID          string          `json:"id"`
	Partition   Partition       `json:"partition"`
	Body        json.RawMessage `json:"body"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

// Preference is a small key/value setting kept on the device.
type Preference struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncSummary reports the outcome of one pass over the offline queue.
type SyncSummary struct {
	Attempted  int       `json:"attempted" yaml:"attempted"`
	Succeeded  int       `json:"succeeded" yaml:"succeeded"`
	Failed     int       `json:"failed" yaml:"failed"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}
