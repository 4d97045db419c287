package executor_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/auth"
	"github.com/aussiebroadwan/marketsync/internal/client/backoff"
	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/events"
	"github.com/aussiebroadwan/marketsync/internal/client/executor"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type handler func(ctx context.Context, n int, req *transport.Request) (*transport.Response, error)

// fakeTransport records every attempt and answers with handle.
type fakeTransport struct {
	mu     sync.Mutex
	sends  []*transport.Request
	handle handler
}

func (f *fakeTransport) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	n := len(f.sends)
	f.sends = append(f.sends, req)
	f.mu.Unlock()
	return f.handle(ctx, n, req)
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func status(code int) *transport.Response {
	return &transport.Response{Status: code, Header: http.Header{}}
}

func fastPolicy() backoff.Policy {
	p := backoff.Default()
	p.Base = time.Millisecond
	return p
}

type fixture struct {
	exec      *executor.Executor
	transport *fakeTransport
	coord     *auth.Coordinator
	bus       *events.Bus
	refreshes *atomic.Int32
}

func newFixture(t *testing.T, h handler, r auth.Refresher) *fixture {
	t.Helper()

	var refreshes atomic.Int32
	if r == nil {
		r = auth.RefresherFunc(func(context.Context, string) (domain.Credentials, error) {
			return domain.Credentials{AccessToken: "B", RefreshToken: "refresh-B"}, nil
		})
	}
	counted := auth.RefresherFunc(func(ctx context.Context, token string) (domain.Credentials, error) {
		refreshes.Add(1)
		return r.Refresh(ctx, token)
	})

	bus := events.NewBus(nil)
	coord := auth.NewCoordinator(counted, &auth.MemoryCredentials{}, bus, nil)
	require.NoError(t, coord.Install(context.Background(), domain.Credentials{AccessToken: "A", RefreshToken: "refresh-A"}))

	ft := &fakeTransport{handle: h}
	exec := executor.New(ft, coord)
	exec.Policy = fastPolicy()
	exec.CallTimeout = time.Second

	return &fixture{exec: exec, transport: ft, coord: coord, bus: bus, refreshes: &refreshes}
}

func get(path string) *transport.Request {
	return &transport.Request{Method: http.MethodGet, Path: path}
}

func TestConcurrentUnauthorizedCallsShareOneRefresh(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	refresher := auth.RefresherFunc(func(context.Context, string) (domain.Credentials, error) {
		<-gate
		return domain.Credentials{AccessToken: "B", RefreshToken: "refresh-B"}, nil
	})

	f := newFixture(t, func(_ context.Context, _ int, req *transport.Request) (*transport.Response, error) {
		if req.Header.Get("Authorization") != "Bearer B" {
			return status(http.StatusUnauthorized), nil
		}
		return status(http.StatusOK), nil
	}, refresher)

	const calls = 3
	errs := make(chan error, calls)
	for i := range calls {
		go func() {
			_, err := f.exec.Execute(context.Background(), get("/v1/orders/"+string(rune('1'+i))))
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return f.coord.Waiting() == calls-1 }, 2*time.Second, time.Millisecond)
	close(gate)

	for range calls {
		require.NoError(t, <-errs)
	}
	require.Equal(t, int32(1), f.refreshes.Load())
	require.Equal(t, 2*calls, f.transport.count())
}

func TestUnauthorizedAfterRefreshIsAuthExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
		return status(http.StatusUnauthorized), nil
	}, nil)

	terminated, cancel := f.bus.SessionTerminated.Subscribe(1)
	defer cancel()

	_, err := f.exec.Execute(context.Background(), get("/v1/orders"))
	require.True(t, domain.IsCategory(err, domain.AuthExpired))
	require.Equal(t, int32(1), f.refreshes.Load())
	require.Equal(t, 2, f.transport.count())

	// The refresh itself worked, so the session was not terminated.
	require.Empty(t, terminated)
	require.Equal(t, "B", f.coord.Current().AccessToken)
}

func TestRefreshFailureEndsCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
		return status(http.StatusUnauthorized), nil
	}, auth.RefresherFunc(func(context.Context, string) (domain.Credentials, error) {
		return domain.Credentials{}, errors.New("invalid_grant")
	}))

	terminated, cancel := f.bus.SessionTerminated.Subscribe(1)
	defer cancel()

	_, err := f.exec.Execute(context.Background(), get("/v1/orders"))
	require.True(t, domain.IsCategory(err, domain.AuthExpired))
	require.Equal(t, 1, f.transport.count())
	require.Len(t, terminated, 1)
}

func TestTransientFailuresAreRetriedThenGiveUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
		return status(http.StatusServiceUnavailable), nil
	}, nil)

	_, err := f.exec.Execute(context.Background(), get("/v1/products"))
	require.True(t, domain.IsCategory(err, domain.Transient))

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, http.StatusServiceUnavailable, de.Status)

	// One initial attempt plus MaxRetries resends.
	require.Equal(t, 1+backoff.DefaultMaxRetries, f.transport.count())
}

func TestConnectionFailureRecovers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ context.Context, n int, _ *transport.Request) (*transport.Response, error) {
		if n < 2 {
			return nil, transport.ErrConnection
		}
		return status(http.StatusOK), nil
	}, nil)

	resp, err := f.exec.Execute(context.Background(), get("/v1/products"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 3, f.transport.count())
}

func TestRetryDelaysDoubleEachAttempt(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		times []time.Time
	)
	f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return status(http.StatusTooManyRequests), nil
	}, nil)
	f.exec.Policy.Base = 10 * time.Millisecond

	_, err := f.exec.Execute(context.Background(), get("/v1/products"))
	require.True(t, domain.IsCategory(err, domain.Transient))

	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		require.GreaterOrEqual(t, times[i].Sub(times[i-1]), f.exec.Policy.DelayFor(i-1))
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
				return &transport.Response{Status: code, Body: []byte(`{"error":"nope"}`)}, nil
			}, nil)

			_, err := f.exec.Execute(context.Background(), get("/v1/orders"))
			require.True(t, domain.IsCategory(err, domain.Permanent))
			require.Contains(t, err.Error(), "nope")
			require.Equal(t, 1, f.transport.count())
		})
	}
}

func TestNoRetryPaths(t *testing.T) {
	t.Parallel()

	t.Run("overload on token endpoint", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
			return status(http.StatusServiceUnavailable), nil
		}, nil)

		_, err := f.exec.Execute(context.Background(), &transport.Request{Method: http.MethodPost, Path: backoff.PathRefresh})
		require.Error(t, err)
		require.Equal(t, 1, f.transport.count())
	})

	t.Run("unauthorized sign-in", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
			return status(http.StatusUnauthorized), nil
		}, nil)

		_, err := f.exec.Execute(context.Background(), &transport.Request{Method: http.MethodPost, Path: backoff.PathSignIn})
		require.True(t, domain.IsCategory(err, domain.Permanent))
		require.Equal(t, 1, f.transport.count())
		require.Equal(t, int32(0), f.refreshes.Load())
	})
}

func TestMalformedCallIsConfigurationFailure(t *testing.T) {
	t.Parallel()

	cases := map[string]*transport.Request{
		"nil":          nil,
		"bad method":   {Method: "BREW", Path: "/v1/coffee"},
		"relative":     {Method: http.MethodGet, Path: "v1/orders"},
		"absolute url": {Method: http.MethodGet, Path: "/https://evil.example"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(context.Context, int, *transport.Request) (*transport.Response, error) {
				return status(http.StatusOK), nil
			}, nil)

			_, err := f.exec.Execute(context.Background(), req)
			require.True(t, domain.IsCategory(err, domain.ConfigurationFailure))
			require.Zero(t, f.transport.count())
		})
	}
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ctx context.Context, _ int, _ *transport.Request) (*transport.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.exec.Execute(ctx, get("/v1/products"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, domain.CategoryOf(err))
	require.Equal(t, 1, f.transport.count())
}

func TestPerCallTimeoutIsConnectionFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ctx context.Context, _ int, _ *transport.Request) (*transport.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	f.exec.CallTimeout = 5 * time.Millisecond
	f.exec.Policy.MaxRetries = 1

	_, err := f.exec.Execute(context.Background(), get("/v1/products"))
	require.True(t, domain.IsCategory(err, domain.Transient))
	require.ErrorIs(t, err, transport.ErrConnection)
	require.Equal(t, 2, f.transport.count())
}

func TestRequestHeadersAreAttachedWithoutMutatingInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ context.Context, _ int, req *transport.Request) (*transport.Response, error) {
		require.Equal(t, "Bearer A", req.Header.Get("Authorization"))
		require.Equal(t, "application/json", req.Header.Get("Content-Type"))
		require.JSONEq(t, `{"sku":"A1"}`, string(req.Body))
		return status(http.StatusCreated), nil
	}, nil)

	req := &transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/orders",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"sku":"A1"}`),
	}
	resp, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestProactiveRefreshOfExpiredToken(t *testing.T) {
	t.Parallel()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	f := newFixture(t, func(_ context.Context, _ int, req *transport.Request) (*transport.Response, error) {
		if req.Header.Get("Authorization") != "Bearer B" {
			return status(http.StatusUnauthorized), nil
		}
		return status(http.StatusOK), nil
	}, nil)
	require.NoError(t, f.coord.Install(context.Background(), domain.Credentials{AccessToken: expired, RefreshToken: "refresh-A"}))
	f.exec.ProactiveRefresh = true

	_, err = f.exec.Execute(context.Background(), get("/v1/products"))
	require.NoError(t, err)
	require.Equal(t, int32(1), f.refreshes.Load())
	require.Equal(t, 1, f.transport.count())
}
