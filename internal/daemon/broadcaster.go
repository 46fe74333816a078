package daemon

import (
	"encoding/json"
	"sync"
	"time"
)

// Event describes one daemon-side state change: a review starting or
// finishing, a session being cleared, or a config reload. Every
// broadcast event gets a monotonically increasing sequence number so
// poll clients can resume from the last one they saw.
type Event struct {
	Seq     uint64    `json:"seq"`
	Type    string    `json:"type"`
	TS      time.Time `json:"ts"`
	Root    string    `json:"project_root,omitempty"`
	Session string    `json:"session,omitempty"`
	Model   string    `json:"model,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Subscriber represents a client subscribed to events
type Subscriber struct {
	ID   int
	Root string // Filter: only send events for this project root (empty = all)
	Ch   chan Event
}

// Broadcaster manages event subscriptions, broadcasting, and the
// recent-event history that backs the poll endpoint.
type Broadcaster interface {
	Subscribe(root string) (int, <-chan Event)
	Unsubscribe(id int)
	Broadcast(event Event) uint64
	EventsSince(seq uint64) []Event
	LastSeq() uint64
	SubscriberCount() int
}

// eventHistorySize bounds the replay window. A client that falls more
// than this many events behind re-syncs from /api/sessions instead.
const eventHistorySize = 256

// EventBroadcaster implements the Broadcaster interface
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]*Subscriber
	nextID      int
	seq         uint64
	history     []Event
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster() Broadcaster {
	return &EventBroadcaster{
		subscribers: make(map[int]*Subscriber),
		nextID:      1,
	}
}

// Subscribe adds a new subscriber with optional project root filter.
// Returns a subscriber ID and event channel.
func (b *EventBroadcaster) Subscribe(root string) (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 10) // Buffer to prevent blocking
	b.subscribers[id] = &Subscriber{ID: id, Root: root, Ch: ch}
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *EventBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// Broadcast assigns the event its sequence number, records it in the
// history, and fans it out to all matching subscribers. Non-blocking:
// if a subscriber's channel is full, the event is dropped for that
// subscriber. Returns the assigned sequence number.
func (b *EventBroadcaster) Broadcast(event Event) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	event.Seq = b.seq
	if event.TS.IsZero() {
		event.TS = time.Now()
	}

	// The history must be updated before fan-out so a subscriber woken
	// by this event always finds it in EventsSince.
	b.history = append(b.history, event)
	if len(b.history) > eventHistorySize {
		b.history = append(b.history[:0], b.history[len(b.history)-eventHistorySize:]...)
	}

	for _, sub := range b.subscribers {
		if sub.Root != "" && sub.Root != event.Root {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
			// Channel full, drop event for this subscriber
		}
	}
	return event.Seq
}

// EventsSince returns all recorded events with a sequence number
// greater than seq, oldest first. Events older than the history window
// are gone; callers detect the gap when the first returned sequence
// number is not seq+1.
func (b *EventBroadcaster) EventsSince(seq uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// History is ordered by Seq, so find the first entry past seq.
	start := len(b.history)
	for i, e := range b.history {
		if e.Seq > seq {
			start = i
			break
		}
	}
	if start == len(b.history) {
		return nil
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// LastSeq returns the sequence number of the most recent event, or 0
// if nothing has been broadcast yet.
func (b *EventBroadcaster) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// SubscriberCount returns the current number of subscribers (for testing)
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalJSON converts an Event to JSON with an RFC3339 timestamp
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Seq     uint64 `json:"seq"`
		Type    string `json:"type"`
		TS      string `json:"ts"`
		Root    string `json:"project_root,omitempty"`
		Session string `json:"session,omitempty"`
		Model   string `json:"model,omitempty"`
		Error   string `json:"error,omitempty"`
	}{
		Seq:     e.Seq,
		Type:    e.Type,
		TS:      e.TS.UTC().Format(time.RFC3339),
		Root:    e.Root,
		Session: e.Session,
		Model:   e.Model,
		Error:   e.Error,
	})
}
