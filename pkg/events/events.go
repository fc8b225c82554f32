package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType names a namespace lifecycle transition
type EventType string

const (
	EventNamespaceCreated      EventType = "namespace.created"
	EventNamespaceCreateFailed EventType = "namespace.create_failed"
	EventNamespaceDeleting     EventType = "namespace.deleting"
	EventNamespaceDeleted      EventType = "namespace.deleted"
	EventNamespaceDeleteFailed EventType = "namespace.delete_failed"
)

// Ends reports whether sessions attached to the namespace must stop
func (t EventType) Ends() bool {
	return t == EventNamespaceDeleting || t == EventNamespaceDeleted
}

// Event is one lifecycle transition of a namespace
type Event struct {
	ID        string
	Type      EventType
	Namespace string
	Timestamp time.Time
	Message   string // failure detail, empty on success
}

// Subscriber receives events in publish order
type Subscriber chan *Event

const (
	queueSize      = 100
	subscriberSize = 50
)

// Broker fans published events out to subscribers. Publishing never waits
// on a subscriber: a full subscriber misses the event and Dropped grows.
type Broker struct {
	mu   sync.RWMutex
	subs map[Subscriber]struct{}

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once

	dropped atomic.Uint64
	logger  zerolog.Logger
}

// NewBroker creates a broker; call Start before publishing
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[Subscriber]struct{}),
		queue:  make(chan *Event, queueSize),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("events"),
	}
}

// Start runs the fan-out loop
func (b *Broker) Start() {
	go b.run()
}

// Stop ends the fan-out loop. Later publishes are discarded.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new buffered subscriber
func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberSize)

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub; unknown subscribers are ignored
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// Publish stamps the event and queues it for delivery
func (b *Broker) Publish(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case b.queue <- ev:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn().Str("type", string(ev.Type)).Str("namespace", ev.Namespace).Msg("Subscriber full, event dropped")
		}
	}
}

// SubscriberCount returns the number of registered subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
