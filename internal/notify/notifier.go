package notify

import (
	"context"
	"sync"

	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
)

// Event types emitted by the queue manager.
const (
	EventAdded     EventType = "added"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
	EventCanceled  EventType = "canceled"
	EventCleared   EventType = "cleared"
)

type EventType string

// Event is a queue lifecycle notification. Job carries a full copy of the
// current record for every type except cleared, which carries the removed
// identifiers instead.
type Event struct {
	Type   EventType `json:"type"`
	Job    *job.Job  `json:"job,omitempty"`
	JobIDs []string  `json:"job_ids,omitempty"`
}

const subscriberBuffer = 64

// Notifier fans queue events out to subscribers. Delivery is
// fire-and-forget: a subscriber whose buffer is full has the event
// dropped, never blocking the publisher.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	log    *logger.Logger
}

func New() *Notifier {
	return &Notifier{
		subs: make(map[int]chan Event),
		log:  logger.Default().WithComponent("notify"),
	}
}

// Subscribe registers an observer. The returned cancel function removes
// the subscription and closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Event, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.log.Warn(context.Background(), "dropping event for slow observer", map[string]any{
				"observer": id,
				"event":    string(ev.Type),
			})
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
