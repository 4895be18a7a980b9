package events_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/events"
)

func TestHubFanOutPreservesOrderPerSubscriber(t *testing.T) {
	h := events.NewHub()
	sub1 := h.Subscribe()
	sub2 := h.Subscribe()

	h.Publish(events.NewStarted("u1", 3))
	h.Publish(events.NewProgress("u1", 1, 3))
	h.Publish(events.NewProgress("u1", 2, 3))

	for _, sub := range []*events.Subscription{sub1, sub2} {
		ev1 := <-sub.Events()
		_, ok := ev1.(events.Started)
		require.True(t, ok)

		ev2 := <-sub.Events()
		p2, ok := ev2.(events.Progress)
		require.True(t, ok)
		require.Equal(t, 1, p2.Completed)

		ev3 := <-sub.Events()
		p3, ok := ev3.(events.Progress)
		require.True(t, ok)
		require.Equal(t, 2, p3.Completed)
	}
}

func TestHubCloseUnsubscribesAndClosesChannel(t *testing.T) {
	h := events.NewHub()
	sub := h.Subscribe()
	sub.Close()

	h.Publish(events.NewStarted("u1", 0))

	_, open := <-sub.Events()
	require.False(t, open, "channel should be closed after Close")
}

func TestHubCloseClosesAllSubscriptions(t *testing.T) {
	h := events.NewHub()
	sub1 := h.Subscribe()
	sub2 := h.Subscribe()

	h.Close()

	_, open1 := <-sub1.Events()
	_, open2 := <-sub2.Events()
	require.False(t, open1)
	require.False(t, open2)
}
