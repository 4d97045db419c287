package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	clienthttp "github.com/aussiebroadwan/marketsync/internal/client/http"
	"github.com/aussiebroadwan/marketsync/internal/client/store/drivers/sqlite"
	"github.com/aussiebroadwan/marketsync/pkg/idx"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	triggers atomic.Int32
	summary  domain.SyncSummary
	err      error
}

func (f *fakeSyncer) RunOnce(context.Context) (domain.SyncSummary, error) { return f.summary, f.err }
func (f *fakeSyncer) Trigger()                                            { f.triggers.Add(1) }

type staticConn bool

func (c staticConn) Online() bool { return bool(c) }

func newServer(t *testing.T, syncer clienthttp.Syncer) (*httptest.Server, *sqlite.Store) {
	t.Helper()

	s, err := sqlite.NewStore(sqlite.DSN(filepath.Join(t.TempDir(), "client.db")), 0)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })

	r := clienthttp.NewRouter("test", s, slogx.Discard())
	r.Syncer = syncer
	r.Connectivity = staticConn(false)
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, s
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, s := newServer(t, nil)

	resp, err := http.Get(srv.URL + "/livez")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decode[clienthttp.HealthResponse](t, resp).Status)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[clienthttp.HealthResponse](t, resp)
	require.Equal(t, "offline", health.Checks.API)
	require.Equal(t, "ok", health.Checks.Database)

	require.NoError(t, s.Close())
	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueueListing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, s := newServer(t, nil)
	now := time.Now().UTC()
	a := domain.OfflineRecord{ID: idx.NewAt(now.Add(-time.Minute)), Kind: domain.KindOrder, Payload: json.RawMessage(`{"a":1}`), CreatedAt: now.Add(-time.Minute)}
	b := domain.OfflineRecord{ID: idx.NewAt(now), Kind: domain.KindPayment, Payload: json.RawMessage(`{"b":2}`), CreatedAt: now}
	require.NoError(t, s.SyncQueue().Enqueue(ctx, a))
	require.NoError(t, s.SyncQueue().Enqueue(ctx, b))
	require.NoError(t, s.SyncQueue().MarkSynced(ctx, a.ID, now))

	resp, err := http.Get(srv.URL + "/v1/queue")
	require.NoError(t, err)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	list := decode[clienthttp.QueueResponse](t, resp)
	require.Equal(t, 1, list.Pending)
	require.Len(t, list.Records, 1)
	require.Equal(t, b.ID, list.Records[0].ID)

	resp, err = http.Get(srv.URL + "/v1/queue?status=all")
	require.NoError(t, err)
	require.Len(t, decode[clienthttp.QueueResponse](t, resp).Records, 2)

	resp, err = http.Get(srv.URL + "/v1/queue?status=bogus")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestManualSync(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{summary: domain.SyncSummary{Attempted: 2, Succeeded: 2}}
	srv, _ := newServer(t, syncer)

	resp, err := http.Post(srv.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()
	require.Equal(t, int32(1), syncer.triggers.Load())

	resp, err = http.Post(srv.URL+"/v1/sync?wait=true", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, decode[domain.SyncSummary](t, resp).Succeeded)
}

func TestManualSyncFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, &fakeSyncer{err: domain.NewStorageFailure(errors.New("disk full"))})

	resp, err := http.Post(srv.URL+"/v1/sync?wait=true", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "storage_failure", body["error"])
}

func TestManualSyncIsRateLimited(t *testing.T) {
	t.Parallel()

	syncer := &fakeSyncer{}
	srv, _ := newServer(t, syncer)

	var limited bool
	for range 10 {
		resp, err := http.Post(srv.URL+"/v1/sync", "application/json", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	require.True(t, limited)
}
