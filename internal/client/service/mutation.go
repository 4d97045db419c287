// Package service holds the client operations the app surface calls.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/auth"
	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/metrics"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/internal/client/syncer"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/aussiebroadwan/marketsync/pkg/idx"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// Revoker invalidates a refresh token server side.
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

// Result of a submitted mutation. Queued is set when the mutation was saved
// for later replay instead of being sent.
type Result struct {
	RecordID idx.ID
	Queued   bool
	Response *transport.Response
}

// MutationService sends user mutations, or queues them while offline.
type MutationService struct {
	Store        store.Store
	Executor     syncer.Executor
	Connectivity syncer.Connectivity
	Endpoints    syncer.Endpoints
	Coordinator  *auth.Coordinator
	// Revoker is optional; sign-out works without reaching the server.
	Revoker Revoker
	Logger  *slog.Logger
}

// NewMutationService wires a service with the default endpoints.
func NewMutationService(s store.Store, exec syncer.Executor, conn syncer.Connectivity, coord *auth.Coordinator, logger *slog.Logger) *MutationService {
	if logger == nil {
		logger = slogx.Discard()
	}
	return &MutationService{
		Store:        s,
		Executor:     exec,
		Connectivity: conn,
		Endpoints:    syncer.DefaultEndpoints(),
		Coordinator:  coord,
		Logger:       logger,
	}
}

// Submit sends a mutation of kind while online. Offline, or when the call
// fails transiently, the mutation is queued instead and Result.Queued is
// set. A queueing failure comes back as a StorageFailure so the UI can warn
// that the change may be lost.
func (s *MutationService) Submit(ctx context.Context, kind domain.Kind, payload json.RawMessage) (Result, error) {
	return s.submit(ctx, kind, payload, nil)
}

// PlaceOrder submits an order and mirrors it into the orders partition so
// it shows up before the server confirms it.
func (s *MutationService) PlaceOrder(ctx context.Context, order json.RawMessage) (Result, error) {
	return s.submit(ctx, domain.KindOrder, order, func(id idx.ID, body json.RawMessage) domain.CachedEntity {
		return domain.CachedEntity{
			ID:          id.String(),
			Partition:   domain.PartitionOrders,
			Body:        body,
			RefreshedAt: time.Now().UTC(),
		}
	})
}

type snapshotFunc func(id idx.ID, body json.RawMessage) domain.CachedEntity

func (s *MutationService) submit(ctx context.Context, kind domain.Kind, payload json.RawMessage, snapshot snapshotFunc) (Result, error) {
	rec, err := domain.NewOfflineRecord(kind, payload)
	if err != nil {
		return Result{}, err
	}
	ctx = slogx.WithOperation(ctx, "submit", rec.ID.String())
	logger := slogx.FromContext(ctx)

	if s.online() {
		res, err := s.send(ctx, rec, snapshot)
		if err == nil || !domain.IsCategory(err, domain.Transient) {
			return res, err
		}
		logger.Warn("mutation failed transiently, queueing for later", "kind", kind, "error", err)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.SyncQueue().Enqueue(ctx, rec); err != nil {
			return err
		}
		if snapshot == nil {
			return nil
		}
		snap := snapshot(rec.ID, rec.Payload)
		return tx.Entities(snap.Partition).Put(ctx, snap)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if domain.CategoryOf(err) == "" {
			err = domain.NewStorageFailure(err)
		}
		logger.Error("failed to queue mutation", "kind", kind, "error", err)
		return Result{}, err
	}

	metrics.QueuePending.Inc()
	logger.Info("mutation queued", "kind", kind)
	return Result{RecordID: rec.ID, Queued: true}, nil
}

func (s *MutationService) send(ctx context.Context, rec domain.OfflineRecord, snapshot snapshotFunc) (Result, error) {
	req, err := s.Endpoints.Request(rec)
	if err != nil {
		return Result{}, err
	}

	resp, err := s.Executor.Execute(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if snapshot != nil {
		body := rec.Payload
		if len(resp.Body) > 0 && json.Valid(resp.Body) {
			body = resp.Body
		}
		snap := snapshot(rec.ID, body)
		if err := s.Store.Entities(snap.Partition).Put(ctx, snap); err != nil {
			// The server has the mutation; only the local mirror is missing.
			slogx.FromContext(ctx).Warn("failed to mirror mutation locally", "error", err)
		}
	}
	return Result{RecordID: rec.ID, Response: resp}, nil
}

// CacheEntity stores a server entity for offline display.
func (s *MutationService) CacheEntity(ctx context.Context, p domain.Partition, id string, body json.RawMessage) error {
	if !p.IsEntity() {
		return domain.NewConfigurationFailure(fmt.Errorf("partition %s does not hold cached entities", p))
	}
	return s.Store.Entities(p).Put(ctx, domain.CachedEntity{
		ID:          id,
		Partition:   p,
		Body:        body,
		RefreshedAt: time.Now().UTC(),
	})
}

// Cached returns the cached entities of p, most recently refreshed first.
func (s *MutationService) Cached(ctx context.Context, p domain.Partition) ([]domain.CachedEntity, error) {
	return s.Store.Entities(p).GetAll(ctx)
}

// SignOut forgets the credentials and clears account scoped data: the cart,
// order snapshots and preferences. Queued mutations are kept.
func (s *MutationService) SignOut(ctx context.Context) error {
	logger := s.Logger

	if s.Coordinator != nil {
		creds := s.Coordinator.Current()
		if s.Revoker != nil && creds.CanRefresh() {
			if err := s.Revoker.Revoke(ctx, creds.RefreshToken); err != nil {
				logger.Warn("failed to revoke refresh token", "error", err)
			}
		}
		if err := s.Coordinator.SignOut(ctx); err != nil {
			return err
		}
	}

	if err := s.Store.Clear(ctx, domain.PartitionCart, domain.PartitionOrders, domain.PartitionPreferences); err != nil {
		return err
	}
	logger.Info("signed out")
	return nil
}

func (s *MutationService) online() bool {
	return s.Connectivity == nil || s.Connectivity.Online()
}
