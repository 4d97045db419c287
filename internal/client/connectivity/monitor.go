// Package connectivity tracks whether the API is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/backoff"
	"github.com/aussiebroadwan/marketsync/internal/client/events"
	"github.com/aussiebroadwan/marketsync/internal/client/metrics"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Monitor holds the online/offline state. The platform can push state with
// Set, or the monitor can probe the API health endpoint itself. A
// Connectivity event is published only when the state changes.
type Monitor struct {
	Transport    transport.Transport
	ProbePath    string
	Interval     time.Duration
	ProbeTimeout time.Duration
	Bus          *events.Bus
	Logger       *slog.Logger

	mu     sync.Mutex
	online bool
	known  bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor returns a monitor probing GET /livez. It starts out offline
// until a probe or Set says otherwise.
func NewMonitor(t transport.Transport, bus *events.Bus, logger *slog.Logger, interval time.Duration) *Monitor {
	if logger == nil {
		logger = slogx.Discard()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		Transport:    t,
		ProbePath:    backoff.PathLivez,
		Interval:     interval,
		ProbeTimeout: DefaultProbeTimeout,
		Bus:          bus,
		Logger:       logger,
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state reported by the platform.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	m.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	if !changed {
		return
	}

	m.Logger.Info("connectivity changed", "online", online)
	if m.Bus != nil {
		m.Bus.Connectivity.Publish(events.Connectivity{Online: online, At: time.Now().UTC()})
	}
}

// Probe calls the health endpoint once, without retry, and records the
// result. Any response below 500 counts as reachable.
func (m *Monitor) Probe(ctx context.Context) bool {
	timeout := m.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := m.Transport.Do(ctx, &transport.Request{Method: http.MethodGet, Path: m.ProbePath})
	online := err == nil && resp.Status < http.StatusInternalServerError
	if err != nil {
		m.Logger.Debug("connectivity probe failed", "error", err)
	}

	m.Set(online)
	return online
}

// Start probes immediately and then every Interval until Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run(ctx)
	m.Logger.Info("connectivity monitor started", "interval", m.Interval)
}

// Stop waits for the probe loop to exit. Calling it more than once is a
// no-op.
func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		m.Logger.Info("connectivity monitor stopped")
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	m.Probe(ctx)

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}
