package device

import (
	"sync"

	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// EventKind identifies a notification for the consumer.
type EventKind int

const (
	StateChanged EventKind = iota
	ReplayStarted
	ReplayStopped
	ClearBodies
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "state-changed"
	case ReplayStarted:
		return "replay-started"
	case ReplayStopped:
		return "replay-stopped"
	case ClearBodies:
		return "clear-bodies"
	default:
		return "unknown"
	}
}

// Event is emitted by Machine on each transition.
type Event struct {
	Kind   EventKind
	From   State
	To     State
	Config *wire.DeviceConfig // nil for MarkIdle
}

// EventQueue hands events to the consumer one per tick. Transitions that
// happen within the same tick queue behind each other in order.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Push appends e.
func (q *EventQueue) Push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Next removes and returns the oldest pending event.
func (q *EventQueue) Next() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	if len(q.events) == 0 {
		q.events = nil
	}
	return e, true
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
