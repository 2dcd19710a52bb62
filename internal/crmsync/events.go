package crmsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
	EventNoop   = "noop"
)

// SyncEvent records one completed sync step for observers.
type SyncEvent struct {
	Kind      Kind      `json:"kind"`
	EntityID  uuid.UUID `json:"entityId"`
	RemoteID  string    `json:"remoteId,omitempty"`
	Direction Direction `json:"direction"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster fans sync events out to subscribers and keeps a bounded
// recent-history buffer for the status endpoint. Publishing never blocks;
// slow subscribers drop events.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan SyncEvent
	nextSub int
	recent  []SyncEvent
	maxKept int
}

func NewBroadcaster(maxKept int) *Broadcaster {
	if maxKept <= 0 {
		maxKept = 256
	}
	return &Broadcaster{
		subs:    map[int]chan SyncEvent{},
		maxKept: maxKept,
	}
}

func (b *Broadcaster) Publish(evt SyncEvent) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = append(b.recent, evt)
	if len(b.recent) > b.maxKept {
		b.recent = b.recent[len(b.recent)-b.maxKept:]
	}
	for _, sub := range b.subs {
		select {
		case sub <- evt:
		default:
		}
	}
}

// Subscribe returns an event channel and a cancel function. The channel is
// closed on cancel.
func (b *Broadcaster) Subscribe() (<-chan SyncEvent, func()) {
	ch := make(chan SyncEvent, 64)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Recent returns the retained event history, oldest first.
func (b *Broadcaster) Recent() []SyncEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SyncEvent(nil), b.recent...)
}
