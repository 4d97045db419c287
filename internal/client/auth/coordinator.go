// Package auth keeps the credential pair and makes sure at most one refresh
// of it is ever in flight.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/events"
	"github.com/aussiebroadwan/marketsync/internal/client/metrics"
	"github.com/aussiebroadwan/marketsync/pkg/cryptox"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// DefaultRefreshTimeout bounds a single refresh call.
const DefaultRefreshTimeout = 15 * time.Second

// ErrNoRefreshToken is the refresh failure when there is nothing to refresh
// with (never signed in, or already signed out).
var ErrNoRefreshToken = errors.New("auth: no refresh token")

// ErrSessionReplaced is the outcome of a refresh cycle that resolved after
// SignOut or Install replaced the session it was refreshing.
var ErrSessionReplaced = errors.New("auth: session replaced during refresh")

// State of the coordinator.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

type outcome struct {
	token string
	err   error
}

// Coordinator owns the credential pair. It is the only writer of it: a
// refresh cycle replaces it, Install seeds it after sign-in and SignOut
// clears it.
//
// Callers that hit an authorization failure while a refresh is running are
// parked in a FIFO queue and released with that refresh's outcome. Callers
// arriving after it resolved start a new cycle instead of joining a stale one.
type Coordinator struct {
	refresher Refresher
	creds     CredentialStore
	bus       *events.Bus
	logger    *slog.Logger

	// RefreshTimeout bounds the refresh call. The call is detached from the
	// initiating caller's cancellation since other callers wait on it.
	RefreshTimeout time.Duration

	// writeMu serialises writes to creds so a resolving cycle cannot
	// persist a pair after SignOut cleared it.
	writeMu sync.Mutex

	mu      sync.Mutex
	state   State
	current domain.Credentials
	session uint64
	waiters []chan outcome

	// released observes each waiter as it is handed its outcome.
	released func(ch chan outcome)
}

// NewCoordinator creates an idle coordinator with no credentials loaded.
func NewCoordinator(refresher Refresher, creds CredentialStore, bus *events.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slogx.Discard()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Coordinator{
		refresher:      refresher,
		creds:          creds,
		bus:            bus,
		logger:         logger,
		RefreshTimeout: DefaultRefreshTimeout,
	}
}

// Load reads the persisted credential pair into memory. Call once at startup.
func (c *Coordinator) Load(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	creds, err := c.creds.Load(ctx)
	if err != nil {
		return err
	}

	c.replace(creds)
	return nil
}

// Current returns the credential pair in use.
func (c *Coordinator) Current() domain.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State reports whether a refresh is in flight.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns the number of callers parked behind the in-flight refresh.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Install stores a freshly issued pair, e.g. after sign-in.
func (c *Coordinator) Install(ctx context.Context, creds domain.Credentials) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.creds.Save(ctx, creds); err != nil {
		return err
	}
	c.replace(creds)

	c.logger.Info("credentials installed", "access_fp", cryptox.Fingerprint(creds.AccessToken))
	return nil
}

// SignOut forgets the credential pair. A refresh still in flight resolves
// with ErrSessionReplaced and its result is discarded.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.replace(domain.Credentials{})
	return c.creds.Clear(ctx)
}

// replace swaps the pair outside a refresh cycle and starts a new session.
func (c *Coordinator) replace(creds domain.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = creds
	c.session++
}

// Refresh returns an access token newer than staleAccessToken, the token the
// caller's failed attempt carried.
//
// If another cycle already replaced that token, the current one is returned
// without a network call. If a cycle is in flight the caller waits for it.
// Otherwise this caller starts the cycle. Failures are AuthExpired errors and
// end the session; an abandoned caller gets ctx.Err() and its outcome is
// dropped.
func (c *Coordinator) Refresh(ctx context.Context, staleAccessToken string) (string, error) {
	c.mu.Lock()

	if c.state == Refreshing {
		ch := make(chan outcome, 1)
		c.waiters = append(c.waiters, ch)
		metrics.RefreshWaiters.Inc()
		c.mu.Unlock()

		select {
		case out := <-ch:
			return out.token, out.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if c.current.AccessToken != "" && c.current.AccessToken != staleAccessToken {
		token := c.current.AccessToken
		c.mu.Unlock()
		return token, nil
	}

	refreshToken := c.current.RefreshToken
	session := c.session
	c.state = Refreshing
	c.mu.Unlock()

	creds, err := c.run(ctx, refreshToken)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.isSession(session) {
		return "", c.discard()
	}
	if err != nil {
		return "", c.fail(ctx, err)
	}
	return c.succeed(ctx, creds), nil
}

func (c *Coordinator) isSession(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session
}

func (c *Coordinator) run(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	if refreshToken == "" {
		return domain.Credentials{}, ErrNoRefreshToken
	}

	timeout := c.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	c.logger.Debug("refreshing credentials", "refresh_fp", cryptox.Fingerprint(refreshToken))
	creds, err := c.refresher.Refresh(rctx, refreshToken)
	if err != nil {
		return domain.Credentials{}, err
	}
	if creds.AccessToken == "" {
		return domain.Credentials{}, errors.New("auth: refresh returned no access token")
	}
	if creds.RefreshToken == "" {
		// Server does not rotate refresh tokens.
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}

func (c *Coordinator) succeed(ctx context.Context, creds domain.Credentials) string {
	if err := c.creds.Save(context.WithoutCancel(ctx), creds); err != nil {
		// The old refresh token is spent, so keep going with the new pair in
		// memory; the next successful refresh persists again.
		c.logger.Error("failed to persist refreshed credentials", "error", err)
	}

	waiters := c.release(creds, true)
	c.notify(waiters, outcome{token: creds.AccessToken})

	metrics.RefreshesTotal.WithLabelValues("success").Inc()
	c.logger.Info("credentials refreshed",
		"access_fp", cryptox.Fingerprint(creds.AccessToken),
		"released", len(waiters),
	)
	return creds.AccessToken
}

func (c *Coordinator) fail(ctx context.Context, cause error) error {
	if err := c.creds.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("failed to clear credentials after refresh failure", "error", err)
	}

	err := domain.NewAuthExpired(cause)
	waiters := c.release(domain.Credentials{}, true)
	c.notify(waiters, outcome{err: err})

	metrics.RefreshesTotal.WithLabelValues("failure").Inc()
	c.logger.Warn("credential refresh failed, session terminated",
		"error", cause,
		"released", len(waiters),
	)
	c.bus.SessionTerminated.Publish(events.SessionTerminated{Reason: err, At: time.Now().UTC()})
	return err
}

// discard resolves a cycle whose session ended while it ran. The pair in
// place (cleared or newly installed) is left alone and no signal is sent.
func (c *Coordinator) discard() error {
	err := domain.NewAuthExpired(ErrSessionReplaced)
	waiters := c.release(domain.Credentials{}, false)
	c.notify(waiters, outcome{err: err})

	metrics.RefreshesTotal.WithLabelValues("discarded").Inc()
	c.logger.Info("credential refresh discarded, session replaced", "released", len(waiters))
	return err
}

// release optionally installs creds, returns to Idle and hands back the
// queued waiters in arrival order. Every waiter channel has room for exactly
// one outcome.
func (c *Coordinator) release(creds domain.Credentials, install bool) []chan outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.waiters
	c.waiters = nil
	if install {
		c.current = creds
	}
	c.state = Idle

	metrics.RefreshWaiters.Sub(float64(len(waiters)))
	return waiters
}

// notify hands out to every waiter, first in first out.
func (c *Coordinator) notify(waiters []chan outcome, out outcome) {
	for _, ch := range waiters {
		ch <- out
		if c.released != nil {
			c.released(ch)
		}
	}
}
