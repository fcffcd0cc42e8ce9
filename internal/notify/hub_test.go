package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-app/covenant/internal/observability"
)

func TestHubDeliversOnlyToSubscribers(t *testing.T) {
	hub := NewHub(4, observability.NewMetrics())
	watcher := hub.Open()
	other := hub.Open()
	defer watcher.Close()
	defer other.Close()

	watcher.Subscribe("lock-update:member:m1")
	other.Subscribe("lock-update:member:m2")

	n := hub.Deliver(Event{ResourceType: "member", ResourceID: "m1", IsLocked: true, LockedBy: "A"})
	assert.Equal(t, 1, n)

	msg := <-watcher.Messages()
	assert.Equal(t, "lock-update:member:m1", msg.Event)
	assert.Equal(t, Payload{IsLocked: true, LockedBy: "A"}, msg.Data)
	assert.Len(t, other.Messages(), 0)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(1, nil)
	s := hub.Open()
	defer s.Close()
	s.Subscribe("lock-update:member:m1")

	ev := Event{ResourceType: "member", ResourceID: "m1", IsLocked: true}
	assert.Equal(t, 1, hub.Deliver(ev))
	assert.Equal(t, 0, hub.Deliver(ev))
	assert.Len(t, s.Messages(), 1)
}

func TestSessionUnsubscribeAndClose(t *testing.T) {
	hub := NewHub(4, nil)
	s := hub.Open()
	topic := "lock-update:member:m1"
	s.Subscribe(topic)
	require.Equal(t, 1, hub.Subscribers(topic))

	s.Unsubscribe(topic)
	assert.Equal(t, 0, hub.Subscribers(topic))

	s.Subscribe(topic)
	s.Close()
	s.Close()
	assert.Equal(t, 0, hub.Subscribers(topic))
	_, open := <-s.Messages()
	assert.False(t, open)
	assert.False(t, s.Send(Message{Event: topic}))

	s.Subscribe(topic)
	assert.Equal(t, 0, hub.Subscribers(topic), "closed sessions cannot resubscribe")
}

func TestHubPublishIsLocal(t *testing.T) {
	hub := NewHub(4, nil)
	s := hub.Open()
	defer s.Close()
	s.Subscribe("lock-update:donation:d1")

	require.NoError(t, hub.Publish(context.Background(), Event{ResourceType: "donation", ResourceID: "d1"}))
	msg := <-s.Messages()
	assert.False(t, msg.Data.IsLocked)
}
