// Package events carries the client's signals between components. The set of
// topics is fixed: session termination, sync completion and connectivity.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// SessionTerminated is published when a credential refresh fails terminally.
// Subscribers force re-authentication.
type SessionTerminated struct {
	Reason error
	At     time.Time
}

// Connectivity is published on online/offline transitions.
type Connectivity struct {
	Online bool
	At     time.Time
}

// Topic is a single publish/subscribe channel of T. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Topic[T any] struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
}

func newTopic[T any](name string, logger *slog.Logger) *Topic[T] {
	return &Topic[T]{
		name:   name,
		logger: logger,
		subs:   make(map[int]chan T),
	}
}

// Subscribe returns a channel of events and a cancel func that unsubscribes
// and closes the channel. buffer < 1 is treated as 1.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan T, buffer)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers v to every current subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subs {
		select {
		case ch <- v:
		default:
			t.logger.Warn("dropping event for slow subscriber", "topic", t.name, "subscriber", id)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Bus groups the client's topics.
type Bus struct {
	SessionTerminated *Topic[SessionTerminated]
	SyncCompleted     *Topic[domain.SyncSummary]
	Connectivity      *Topic[Connectivity]
}

// NewBus creates a bus. A nil logger discards drop warnings.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slogx.Discard()
	}
	return &Bus{
		SessionTerminated: newTopic[SessionTerminated]("session_terminated", logger),
		SyncCompleted:     newTopic[domain.SyncSummary]("sync_completed", logger),
		Connectivity:      newTopic[Connectivity]("connectivity", logger),
	}
}
