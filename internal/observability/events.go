// File: internal/observability/events.go
package observability

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// Bus fans lifecycle events out to any number of subscribers. Publishing is
// non-blocking: a subscriber whose buffer is full simply misses the event.
// The run must never stall on a slow observer.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan schemas.Event
	logger *zap.Logger
	closed bool
}

// NewBus creates an event bus. The logger records dropped events at debug.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe returns a buffered channel of events. The channel is closed when
// the bus shuts down.
func (b *Bus) Subscribe(buffer int) <-chan schemas.Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan schemas.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(evtType schemas.EventType, runID string, payload map[string]any) {
	evt := schemas.Event{
		Type:      evtType,
		RunID:     runID,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("Event subscriber buffer full, dropping event",
				zap.String("event", string(evtType)))
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
