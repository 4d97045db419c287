package connectivity_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/connectivity"
	"github.com/aussiebroadwan/marketsync/internal/client/events"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/stretchr/testify/require"
)

func TestSetPublishesOnlyTransitions(t *testing.T) {
	t.Parallel()

	bus := events.NewBus(nil)
	changes, cancel := bus.Connectivity.Subscribe(8)
	defer cancel()

	m := connectivity.NewMonitor(nil, bus, nil, 0)
	require.False(t, m.Online())

	m.Set(true)
	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	var got []bool
	for len(changes) > 0 {
		got = append(got, (<-changes).Online)
	}
	require.Equal(t, []bool{true, false, true}, got)
	require.True(t, m.Online())
}

func TestProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		resp   *transport.Response
		err    error
		online bool
	}{
		{name: "healthy", resp: &transport.Response{Status: http.StatusOK}, online: true},
		{name: "client error still reachable", resp: &transport.Response{Status: http.StatusNotFound}, online: true},
		{name: "server down", resp: &transport.Response{Status: http.StatusServiceUnavailable}, online: false},
		{name: "connection refused", err: transport.ErrConnection, online: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			tr := transport.TransportFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
				calls.Add(1)
				require.Equal(t, http.MethodGet, req.Method)
				require.Equal(t, "/livez", req.Path)
				return tt.resp, tt.err
			})

			m := connectivity.NewMonitor(tr, nil, nil, 0)
			require.Equal(t, tt.online, m.Probe(context.Background()))
			require.Equal(t, tt.online, m.Online())
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestStartProbesPeriodically(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	tr := transport.TransportFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{Status: http.StatusOK}, nil
	})

	m := connectivity.NewMonitor(tr, events.NewBus(nil), nil, 5*time.Millisecond)
	m.Start(context.Background())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	m.Stop()
	require.True(t, m.Online())
	require.NotPanics(t, m.Stop)
}
