package events

import (
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	a, cancelA := bus.SessionTerminated.Subscribe(1)
	defer cancelA()
	b, cancelB := bus.SessionTerminated.Subscribe(1)
	defer cancelB()

	reason := errors.New("refresh rejected")
	bus.SessionTerminated.Publish(SessionTerminated{Reason: reason, At: time.Now()})

	require.ErrorIs(t, (<-a).Reason, reason)
	require.ErrorIs(t, (<-b).Reason, reason)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	ch, cancel := bus.SyncCompleted.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.SyncCompleted.Publish(domain.SyncSummary{Attempted: 1})
		bus.SyncCompleted.Publish(domain.SyncSummary{Attempted: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Equal(t, 1, (<-ch).Attempted)
}

func TestCancelUnsubscribesAndCloses(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	ch, cancel := bus.Connectivity.Subscribe(0)
	require.Equal(t, 1, bus.Connectivity.Subscribers())

	cancel()
	cancel() // idempotent
	require.Equal(t, 0, bus.Connectivity.Subscribers())

	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	bus.Connectivity.Publish(Connectivity{Online: true})
}
