package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriber is one registered consumer with an optional kind filter.
type subscriber struct {
	id      string
	channel chan Event
	filters map[Kind]bool
}

// Bus fans events out to subscribers. Delivery is best effort: a subscriber
// whose buffer is full has the event dropped with a logged warning, so one
// slow observer cannot stall the engine.
type Bus struct {
	log        *zap.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool
}

// NewBus creates a bus; bufferSize is the per-subscriber channel depth.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		log:         logger.Named("event_bus"),
		bufferSize:  bufferSize,
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a consumer and returns its receive channel. With no
// kinds given the subscriber receives every event; otherwise only the listed
// kinds. The channel is closed by Shutdown.
func (b *Bus) Subscribe(kinds ...Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	filters := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		filters[k] = true
	}
	sub := &subscriber{
		id:      uuid.NewString()[:8],
		channel: make(chan Event, b.bufferSize),
		filters: filters,
	}
	b.subscribers[sub.id] = sub

	b.log.Debug("Subscriber registered",
		zap.String("subscriber_id", sub.id),
		zap.Int("active_subscribers", len(b.subscribers)))
	return sub.channel
}

// Publish delivers an event of the given kind to all interested subscribers.
func (b *Bus) Publish(kind Kind, payload any) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if len(sub.filters) > 0 && !sub.filters[kind] {
			continue
		}
		select {
		case sub.channel <- ev:
		default:
			b.log.Warn("Subscriber buffer full, dropping event",
				zap.String("kind", string(kind)),
				zap.String("subscriber_id", sub.id))
		}
	}
}

// Shutdown closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.channel)
	}
	b.subscribers = make(map[string]*subscriber)
	b.log.Debug("Event bus shut down")
}
