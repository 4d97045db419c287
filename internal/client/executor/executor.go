// Package executor sends calls to the API with the client's failure policy:
// attach credentials, recover once from an expired access token, retry
// transient failures with exponential backoff, and classify what is left.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/auth"
	"github.com/aussiebroadwan/marketsync/internal/client/backoff"
	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/metrics"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// DefaultSkew is how early a known-expiring access token is refreshed when
// ProactiveRefresh is on.
const DefaultSkew = 30 * time.Second

// RetryContext is the per-call retry state. It lives for one Execute call.
type RetryContext struct {
	// Attempt counts transient retries already made.
	Attempt int
	// AuthRetried is set once the call went through a refresh cycle.
	AuthRetried bool
	// Request is the caller's request as it will be resent.
	Request transport.Request
}

// Executor runs calls. Every field except Transport is optional.
type Executor struct {
	Transport   transport.Transport
	Coordinator *auth.Coordinator
	Policy      backoff.Policy
	// CallTimeout bounds each attempt; a timed out attempt is a
	// connection-level failure.
	CallTimeout time.Duration

	// ProactiveRefresh refreshes a JWT access token whose exp claim is
	// within Skew of now before sending, instead of waiting for the 401.
	ProactiveRefresh bool
	Skew             time.Duration
}

// New returns an executor with the default policy and call timeout.
func New(t transport.Transport, c *auth.Coordinator) *Executor {
	return &Executor{
		Transport:   t,
		Coordinator: c,
		Policy:      backoff.Default(),
		CallTimeout: transport.DefaultTimeout,
		Skew:        DefaultSkew,
	}
}

// Execute sends req and returns its 2xx/3xx response, or a *domain.Error
// naming the terminal outcome. If ctx ends first, ctx.Err() is returned and
// nothing is retried on the caller's behalf.
func (e *Executor) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := validate(req); err != nil {
		return nil, e.finish(ctx, nil, domain.NewConfigurationFailure(err))
	}

	rc := &RetryContext{Request: *req.Clone()}
	logger := slogx.FromContext(ctx).With("method", req.Method, "path", req.Path)

	for {
		if err := ctx.Err(); err != nil {
			return nil, e.finish(ctx, logger, err)
		}

		token, err := e.accessToken(ctx)
		if err != nil {
			return nil, e.finish(ctx, logger, err)
		}

		attempt := rc.Request.Clone()
		if token != "" {
			attempt.Header.Set("Authorization", "Bearer "+token)
		}

		resp, sendErr := e.send(ctx, attempt)
		if err := ctx.Err(); err != nil {
			return nil, e.finish(ctx, logger, err)
		}

		failure := backoff.Failure{Path: req.Path, Err: sendErr}
		if sendErr == nil {
			if resp.Status == http.StatusUnauthorized {
				if err := e.recoverAuth(ctx, logger, rc, token); err != nil {
					return nil, e.finish(ctx, logger, err)
				}
				continue
			}
			if resp.Status < http.StatusBadRequest {
				return resp, e.finish(ctx, logger, nil)
			}
			failure.Status = resp.Status
		}

		if e.Policy.IsRetryable(failure) && !e.Policy.Exhausted(rc.Attempt) {
			delay := e.Policy.DelayFor(rc.Attempt)
			logger.Warn("call failed, retrying",
				"attempt", rc.Attempt+1,
				"delay", delay,
				"status", failure.Status,
				"error", sendErr,
			)
			if err := wait(ctx, delay); err != nil {
				return nil, e.finish(ctx, logger, err)
			}
			rc.Attempt++
			metrics.RetriesTotal.WithLabelValues(retryReason(failure)).Inc()
			continue
		}

		return nil, e.finish(ctx, logger, terminal(failure, resp, rc))
	}
}

// recoverAuth handles a 401. It returns nil when the call should be resent
// with a new access token.
func (e *Executor) recoverAuth(ctx context.Context, logger *slog.Logger, rc *RetryContext, usedToken string) error {
	path := rc.Request.Path
	if e.Policy.NoRetry(path) {
		return domain.NewPermanent(http.StatusUnauthorized, fmt.Errorf("%s %s: unauthorized", rc.Request.Method, path))
	}
	if rc.AuthRetried {
		return domain.NewAuthExpired(errors.New("call rejected again after credential refresh"))
	}
	if e.Coordinator == nil {
		return domain.NewAuthExpired(errors.New("no credentials configured"))
	}

	rc.AuthRetried = true
	metrics.RetriesTotal.WithLabelValues("auth").Inc()
	logger.Debug("access token rejected, refreshing")

	if _, err := e.Coordinator.Refresh(ctx, usedToken); err != nil {
		return err
	}
	return nil
}

func (e *Executor) accessToken(ctx context.Context) (string, error) {
	if e.Coordinator == nil {
		return "", nil
	}

	creds := e.Coordinator.Current()
	if !e.ProactiveRefresh || !creds.CanRefresh() {
		return creds.AccessToken, nil
	}

	skew := e.Skew
	if skew <= 0 {
		skew = DefaultSkew
	}
	if !creds.Expired(time.Now(), skew) {
		return creds.AccessToken, nil
	}
	return e.Coordinator.Refresh(ctx, creds.AccessToken)
}

func (e *Executor) send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	timeout := e.CallTimeout
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.Transport.Do(cctx, req)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: call timed out after %s: %w", transport.ErrConnection, timeout, err)
		}
		return nil, err
	}
	return resp, nil
}

func (e *Executor) finish(ctx context.Context, logger *slog.Logger, err error) error {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		outcome = "canceled"
	default:
		if c := domain.CategoryOf(err); c != "" {
			outcome = string(c)
		} else {
			outcome = "error"
		}
	}
	metrics.RequestsTotal.WithLabelValues(outcome).Inc()

	if err != nil && logger != nil {
		logger.Info("call failed", "outcome", outcome, "error", err)
	}
	return err
}

// terminal classifies a failure that will not be retried.
func terminal(f backoff.Failure, resp *transport.Response, rc *RetryContext) error {
	if f.Err != nil {
		if backoff.IsConnectionError(f.Err) {
			return domain.NewTransient(0, fmt.Errorf("after %d retries: %w", rc.Attempt, f.Err))
		}
		return domain.NewConfigurationFailure(f.Err)
	}

	cause := fmt.Errorf("%s %s returned %d", rc.Request.Method, rc.Request.Path, f.Status)
	if resp != nil && len(resp.Body) > 0 {
		cause = fmt.Errorf("%w: %s", cause, truncate(resp.Body, 256))
	}
	if backoff.RetryableStatus(f.Status) {
		return domain.NewTransient(f.Status, fmt.Errorf("after %d retries: %w", rc.Attempt, cause))
	}
	return domain.NewPermanent(f.Status, cause)
}

func validate(req *transport.Request) error {
	if req == nil {
		return errors.New("request must not be nil")
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return fmt.Errorf("unsupported method %q", req.Method)
	}
	if !strings.HasPrefix(req.Path, "/") || strings.Contains(req.Path, "://") {
		return fmt.Errorf("path %q must be absolute and relative to the API base", req.Path)
	}
	if strings.ContainsAny(req.Path, " \t\r\n") {
		return fmt.Errorf("path %q contains whitespace", req.Path)
	}
	return nil
}

func retryReason(f backoff.Failure) string {
	if f.Err != nil {
		return "connection"
	}
	return "status"
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
