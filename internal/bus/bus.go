// Package bus is the in-process publish/subscribe registry the state store
// notifies after every successful persist. Push-protocol adapters subscribe
// here; they bootstrap recent history from the recent-pulses table before
// listening, since the bus itself keeps no replay buffer.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"pulsewatch/internal/models"
)

const defaultBuffer = 64

// Bus fans events out over one bounded channel per listener. A listener
// that stops draining loses its oldest events; it can never block delivery
// to other listeners or back-pressure the state store.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]chan models.PulseEvent
	nextID    int
	buffer    int
	logger    zerolog.Logger
}

func New(logger zerolog.Logger) *Bus {
	return &Bus{
		listeners: make(map[int]chan models.PulseEvent),
		buffer:    defaultBuffer,
		logger:    logger.With().Str("component", "bus").Logger(),
	}
}

// Listen registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Listen() (<-chan models.PulseEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan models.PulseEvent, b.buffer)
	b.listeners[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Notify delivers the event to every registered listener. A full listener
// channel drops its oldest event to make room; Notify never blocks.
func (b *Bus) Notify(ev models.PulseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.listeners {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
			b.logger.Warn().Int("listener", id).Str("sqid", ev.Sqid).Msg("slow listener, dropped oldest event")
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// ListenerCount reports the number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
