package sync

import (
	"sync"
	"time"

	"github.com/creditapp/offlinesync/internal/logging"
	"github.com/creditapp/offlinesync/internal/models"
)

// EventType identifies a lifecycle notification.
type EventType string

const (
	EventQueued         EventType = "queued"
	EventCycleStarted   EventType = "cycle-started"
	EventRecordSynced   EventType = "record-synced"
	EventRecordFailed   EventType = "record-failed"
	EventCycleCompleted EventType = "cycle-completed"
)

// Event is one lifecycle notification delivered to subscribers. Which
// fields are set depends on the type: record events carry Collection and
// LocalID, cycle-completed carries the Session.
type Event struct {
	Type       EventType
	Collection string
	LocalID    string
	ServerID   string
	Err        error
	Session    *models.SyncSession
	At         time.Time
}

// Handler receives lifecycle events.
type Handler func(Event)

// Notifier is a typed publish/subscribe channel between the engine and
// whatever renders status. It is deliberately ignorant of presentation.
type Notifier struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a handler for all subsequent events. Handlers are
// invoked synchronously in subscription order.
func (n *Notifier) Subscribe(h Handler) {
	if h == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// Publish delivers an event to every subscriber. A panicking handler is
// contained so one broken UI callback cannot take down a sync cycle.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	n.mu.RLock()
	handlers := make([]Handler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.WithComponent("events").WithField("panic", r).
						Error("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}
