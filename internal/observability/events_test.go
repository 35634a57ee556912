package observability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBusFansOutToAllSubscribers(t *testing.T) {
	bus := observability.NewBus(zaptest.NewLogger(t))
	defer bus.Close()

	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(schemas.EventStateChanged, "run-1", map[string]any{"to": "COMPLETED"})

	evtA := <-a
	evtB := <-b
	assert.Equal(t, schemas.EventStateChanged, evtA.Type)
	assert.Equal(t, "run-1", evtA.RunID)
	assert.Equal(t, "COMPLETED", evtA.Payload["to"])
	assert.Equal(t, evtA.Type, evtB.Type)
	assert.False(t, evtA.Timestamp.IsZero())
}

func TestBusPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := observability.NewBus(zaptest.NewLogger(t))
	defer bus.Close()

	slow := bus.Subscribe(1)
	bus.Publish(schemas.EventError, "run-2", nil)
	// The buffer is full now; further publishes must drop, not stall.
	bus.Publish(schemas.EventError, "run-2", nil)
	bus.Publish(schemas.EventError, "run-2", nil)

	<-slow
	select {
	case _, ok := <-slow:
		// Either nothing else was delivered or the channel is already closed.
		assert.False(t, ok)
	default:
	}
}

func TestBusCloseClosesSubscriberChannels(t *testing.T) {
	bus := observability.NewBus(zaptest.NewLogger(t))
	ch := bus.Subscribe(2)

	bus.Close()
	bus.Close() // idempotent

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after close is a no-op.
	bus.Publish(schemas.EventCompleted, "run-3", nil)

	// Subscribing after close yields an already-closed channel.
	late := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
