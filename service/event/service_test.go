package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New()
	var order []string
	bus.Subscribe(TopicActionCreated, func(e *Event) {
		order = append(order, "first:"+e.ActionID)
	})
	bus.Subscribe(TopicActionCreated, func(e *Event) {
		order = append(order, "second:"+e.ActionID)
	})
	bus.Subscribe("", func(e *Event) {
		order = append(order, "wildcard:"+e.ActionID)
	})

	bus.Emit(context.Background(), TopicActionCreated, "a-1", nil)
	bus.Emit(context.Background(), TopicActionQueued, "a-2", nil)

	assert.Equal(t, []string{"first:a-1", "second:a-1", "wildcard:a-1", "wildcard:a-2"}, order)
}

func TestHistoryBounded(t *testing.T) {
	bus := New(WithHistoryCapacity(2))
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		bus.Emit(context.Background(), TopicActionExecuted, id, nil)
	}
	history := bus.History(TopicActionExecuted)
	assert.Len(t, history, 2)
	assert.Equal(t, "a-2", history[0].ActionID)
	assert.Equal(t, "a-3", history[1].ActionID)
}

func TestHistoryDisabled(t *testing.T) {
	bus := New(WithHistoryCapacity(0))
	bus.Emit(context.Background(), TopicActionCreated, "a-1", nil)
	assert.Empty(t, bus.History(TopicActionCreated))
}
