// Package syncer replays the offline queue against the API.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/events"
	"github.com/aussiebroadwan/marketsync/internal/client/metrics"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// Executor sends one call with retry and auth recovery.
type Executor interface {
	Execute(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Connectivity reports whether the API is believed reachable.
type Connectivity interface {
	Online() bool
}

// DefaultRate is the default replay rate in records per second.
const DefaultRate = 5

// Engine replays pending offline records oldest first. Records are only ever
// marked synced after the server accepted them; a failed record stays queued
// for the next pass.
type Engine struct {
	Store     store.Store
	Executor  Executor
	Bus       *events.Bus
	Endpoints Endpoints
	// Limiter paces replays so a long queue does not flood the API. Nil
	// disables pacing.
	Limiter *rate.Limiter
	Logger  *slog.Logger

	// Connectivity gates the interval trigger. Nil means always online.
	Connectivity Connectivity
	// Interval runs a pass periodically while online. Zero disables it.
	Interval time.Duration

	mu sync.Mutex // held for the whole of a pass

	trigger     chan struct{}
	reconnected chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	cancel      context.CancelFunc
}

// NewEngine returns an engine with the default endpoints and a limiter of
// perSecond records per second (DefaultRate when perSecond <= 0).
func NewEngine(s store.Store, exec Executor, bus *events.Bus, logger *slog.Logger, perSecond float64) *Engine {
	if logger == nil {
		logger = slogx.Discard()
	}
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	return &Engine{
		Store:     s,
		Executor:  exec,
		Bus:       bus,
		Endpoints: DefaultEndpoints(),
		Limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		Logger:    logger,
	}
}

// RunOnce makes one pass over the pending records. Only one pass runs at a
// time; a concurrent call waits for the running one and then makes its own.
//
// A record that fails is counted and left queued, and the pass moves on.
// An AuthExpired failure ends the pass since every later record would fail
// the same way. If ctx ends, the pass stops between records and ctx.Err()
// is returned with the partial summary.
func (e *Engine) RunOnce(ctx context.Context) (domain.SyncSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	summary := domain.SyncSummary{StartedAt: started.UTC()}
	logger := e.logger()

	pending, err := e.Store.SyncQueue().Pending(ctx)
	if err != nil {
		return summary, err
	}
	if len(pending) > 0 {
		logger.Info("sync pass started", "pending", len(pending))
	}

	var passErr error
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			passErr = err
			break
		}
		if e.Limiter != nil {
			if err := e.Limiter.Wait(ctx); err != nil {
				passErr = ctxErr(ctx, err)
				break
			}
		}

		summary.Attempted++
		err := e.replay(ctx, rec)
		if err == nil {
			summary.Succeeded++
			metrics.SyncRecordsTotal.WithLabelValues(rec.Kind.String(), "success").Inc()
			continue
		}

		if ctx.Err() != nil {
			summary.Attempted--
			passErr = ctx.Err()
			break
		}

		summary.Failed++
		metrics.SyncRecordsTotal.WithLabelValues(rec.Kind.String(), "failure").Inc()
		logger.Warn("failed to sync record",
			"record_id", rec.ID,
			"kind", rec.Kind,
			"category", domain.CategoryOf(err),
			"error", err,
		)
		if domain.IsCategory(err, domain.AuthExpired) {
			logger.Warn("session expired, ending sync pass", "remaining", len(pending)-summary.Attempted)
			break
		}
	}

	summary.FinishedAt = time.Now().UTC()
	metrics.SyncPassDuration.Observe(time.Since(started).Seconds())
	e.refreshPendingGauge(ctx)

	if summary.Attempted > 0 {
		logger.Info("sync pass completed",
			"attempted", summary.Attempted,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
		)
	}
	if e.Bus != nil {
		e.Bus.SyncCompleted.Publish(summary)
	}
	return summary, passErr
}

func (e *Engine) replay(ctx context.Context, rec domain.OfflineRecord) error {
	ctx = slogx.WithOperation(ctx, "sync", rec.ID.String())

	req, err := e.Endpoints.Request(rec)
	if err != nil {
		return err
	}
	if _, err := e.Executor.Execute(ctx, req); err != nil {
		return err
	}

	// The server has the record now. If marking fails it is resent on the
	// next pass under the same idempotency key.
	return e.Store.SyncQueue().MarkSynced(context.WithoutCancel(ctx), rec.ID, time.Now().UTC())
}

func (e *Engine) refreshPendingGauge(ctx context.Context) {
	n, err := e.Store.SyncQueue().CountPending(context.WithoutCancel(ctx))
	if err != nil {
		e.logger().Error("failed to count pending records", "error", err)
		return
	}
	metrics.QueuePending.Set(float64(n))
}

// Trigger asks the background worker for a pass. Triggers that arrive while
// one is already pending are merged.
func (e *Engine) Trigger() {
	if e.trigger == nil {
		return
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Start runs the background worker: a pass on every offline to online
// transition, on Trigger, and every Interval while online. It also makes a
// pass straight away. Call Stop to shut it down.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.trigger = make(chan struct{}, 1)
	e.reconnected = make(chan struct{}, 1)
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	unsub := func() {}
	if e.Bus != nil {
		var changes <-chan events.Connectivity
		changes, unsub = e.Bus.Connectivity.Subscribe(4)
		go e.watch(changes)
	}

	go e.run(ctx, unsub)
	e.logger().Info("sync engine started", "interval", e.Interval)
}

// Stop cancels an in-flight pass between records and waits for the worker
// to exit. Calling it more than once is a no-op.
func (e *Engine) Stop() {
	if e.stopCh == nil {
		return
	}
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.cancel()
		<-e.doneCh
		e.logger().Info("sync engine stopped")
	})
}

// watch drains connectivity changes as they arrive and folds online
// transitions into a single pending wake-up, so none are lost while a pass
// is running. It exits when the subscription is cancelled.
func (e *Engine) watch(changes <-chan events.Connectivity) {
	for ev := range changes {
		if !ev.Online {
			continue
		}
		select {
		case e.reconnected <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) run(ctx context.Context, unsub func()) {
	defer close(e.doneCh)
	defer unsub()

	var tick <-chan time.Time
	if e.Interval > 0 {
		ticker := time.NewTicker(e.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	e.pass(ctx, "startup")

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.reconnected:
			e.pass(ctx, "online")
		case <-e.trigger:
			e.pass(ctx, "manual")
		case <-tick:
			if e.online() {
				e.pass(ctx, "interval")
			}
		}
	}
}

func (e *Engine) pass(ctx context.Context, reason string) {
	if !e.online() && reason != "manual" {
		return
	}
	if _, err := e.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger().Error("sync pass failed", "reason", reason, "error", err)
	}
}

func (e *Engine) online() bool {
	return e.Connectivity == nil || e.Connectivity.Online()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slogx.Discard()
	}
	return e.Logger
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
