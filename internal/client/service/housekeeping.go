package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
)

const (
	DefaultSyncedRetention = 7 * 24 * time.Hour
	DefaultCacheTTL        = 30 * 24 * time.Hour
)

// HousekeepingService periodically trims the durable store so synced records
// and stale cache entries do not grow without bound.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// SyncedRetention is how long a synced record is kept after its sync.
	SyncedRetention time.Duration
	// CacheTTL is how long a cached entity is kept after its last refresh.
	// Zero keeps cached entities forever.
	CacheTTL time.Duration

	// Internal channels for lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:           store,
		Logger:          logger,
		Interval:        interval,
		SyncedRetention: DefaultSyncedRetention,
		CacheTTL:        DefaultCacheTTL,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup. Calling it
// more than once is a no-op.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one housekeeping round. Each step is independent; a failure
// in one does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := time.Now()

	purged, err := s.Store.SyncQueue().PurgeSynced(ctx, now.Add(-s.SyncedRetention))
	if err != nil {
		s.Logger.Error("failed to purge synced records", "error", err)
	}

	var evicted int64
	if s.CacheTTL > 0 {
		cutoff := now.Add(-s.CacheTTL)
		for _, p := range domain.EntityPartitions() {
			n, err := s.Store.Entities(p).EvictOlderThan(ctx, cutoff)
			if err != nil {
				s.Logger.Error("failed to evict stale cache entries", "partition", p, "error", err)
				continue
			}
			evicted += n
		}
	}

	s.Logger.Info("housekeeping cleanup completed", "purged_synced", purged, "evicted_cached", evicted)
}
