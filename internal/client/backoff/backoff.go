// Package backoff decides how long to wait before retrying a call and whether
// a failure is worth retrying at all. It holds no state.
package backoff

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"syscall"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/transport"
)

const (
	DefaultBase       = time.Second
	DefaultMaxRetries = 3
)

// Paths that must never be retried automatically. Retrying the credential
// endpoints with a permanently bad credential would loop forever.
const (
	PathRefresh = "/v1/oauth2/token"
	PathRevoke  = "/v1/oauth2/revoke"
	PathSignIn  = "/v1/auth/login"
	PathSignOut = "/v1/auth/logout"
	PathLivez   = "/livez"
	PathReadyz  = "/readyz"
)

// Policy maps attempt counts to delays and failures to retry decisions.
type Policy struct {
	Base         time.Duration
	MaxRetries   int
	NoRetryPaths []string
}

// Default returns the standard policy: 1s base, three retries.
func Default() Policy {
	return Policy{
		Base:       DefaultBase,
		MaxRetries: DefaultMaxRetries,
		NoRetryPaths: []string{
			PathRefresh,
			PathRevoke,
			PathSignIn,
			PathSignOut,
			PathLivez,
			PathReadyz,
		},
	}
}

// DelayFor returns Base × 2^attempt.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.Base << attempt
}

// Exhausted reports whether attempt has reached the retry bound.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// NoRetry reports whether path is excluded from automatic retry.
func (p Policy) NoRetry(path string) bool {
	return slices.Contains(p.NoRetryPaths, path)
}

// Failure describes one failed call attempt. Either Err is set (no response
// was received) or Status holds the response status.
type Failure struct {
	Path   string
	Status int
	Err    error
}

// IsRetryable classifies f. Connection-level failures and transient overload
// statuses (408, 429, 5xx) are retryable, except on no-retry paths.
func (p Policy) IsRetryable(f Failure) bool {
	if p.NoRetry(f.Path) {
		return false
	}
	if f.Err != nil {
		return IsConnectionError(f.Err)
	}
	return RetryableStatus(f.Status)
}

// RetryableStatus reports whether status signals transient server overload.
func RetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status <= 599:
		return true
	}
	return false
}

// IsConnectionError reports whether err means no response came back: an
// explicit transport failure, a per-call timeout, or a network error.
// Caller cancellation (context.Canceled) is not a connection error.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, transport.ErrConnection) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}
