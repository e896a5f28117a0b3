package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEmitterDelivers(t *testing.T) {
	em := NewChannelEmitter(4)
	em.Emit(Event{Type: EventTaskStarted, TaskID: "t1"})
	em.Emit(Event{Type: EventTaskFinished, TaskID: "t1"})
	em.Close()

	var types []EventType
	for ev := range em.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventTaskStarted, EventTaskFinished}, types)
}

func TestChannelEmitterDropsWhenFull(t *testing.T) {
	em := NewChannelEmitter(1)
	// Nothing reads the channel; only the first event fits, the rest must
	// be dropped without blocking.
	em.Emit(Event{Type: EventStepStarted})
	em.Emit(Event{Type: EventStepFinished})
	em.Emit(Event{Type: EventTaskFinished})

	require.Len(t, em.Events(), 1)
	ev := <-em.Events()
	assert.Equal(t, EventStepStarted, ev.Type)
}

func TestChannelEmitterDefaultBuffer(t *testing.T) {
	em := NewChannelEmitter(0)
	for i := 0; i < 70; i++ {
		em.Emit(Event{Type: EventStepStarted, StepIndex: i})
	}
	assert.Len(t, em.Events(), 64)
}

func TestNopEmitter(t *testing.T) {
	assert.NotPanics(t, func() {
		NopEmitter{}.Emit(Event{Type: EventTaskStarted})
	})
}
