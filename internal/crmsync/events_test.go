package crmsync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	ch, cancel := b.Subscribe()
	defer cancel()

	evt := SyncEvent{Kind: KindUser, EntityID: uuid.New(), Direction: DirectionOutbound, Action: EventCreate}
	b.Publish(evt)

	got := <-ch
	assert.Equal(t, evt.EntityID, got.EntityID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBroadcasterRecentIsBounded(t *testing.T) {
	b := NewBroadcaster(2)
	first := uuid.New()
	b.Publish(SyncEvent{Kind: KindUser, EntityID: first, Action: EventCreate})
	b.Publish(SyncEvent{Kind: KindUser, EntityID: uuid.New(), Action: EventUpdate})
	b.Publish(SyncEvent{Kind: KindUser, EntityID: uuid.New(), Action: EventDelete})

	recent := b.Recent()
	require.Len(t, recent, 2)
	for _, evt := range recent {
		assert.NotEqual(t, first, evt.EntityID)
	}
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster(4)
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or deliver.
	b.Publish(SyncEvent{Kind: KindUser, EntityID: uuid.New(), Action: EventCreate})
}

func TestBroadcasterNilPublishIsSafe(t *testing.T) {
	var b *Broadcaster
	b.Publish(SyncEvent{Kind: KindUser})
}
