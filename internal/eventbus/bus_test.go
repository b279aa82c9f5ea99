package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmit_DeliversToUnfilteredSubscriber(t *testing.T) {
	b := New()
	var got []Event
	b.Subscribe(func(ev Event) { got = append(got, ev) }, "")

	b.Emit(Event{Type: "session.message", SessionID: "s1"})
	b.Emit(Event{Type: "session.message", SessionID: "s2"})

	assert.Len(t, got, 2)
}

func TestEmit_SessionFilteredSubscriberSkipsOthers(t *testing.T) {
	b := New()
	var got []Event
	b.Subscribe(func(ev Event) { got = append(got, ev) }, "s1")

	b.Emit(Event{Type: "session.message", SessionID: "s1"})
	b.Emit(Event{Type: "session.message", SessionID: "s2"})

	assert.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SessionID)
}

func TestEmit_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New()
	var secondCalled bool

	b.Subscribe(func(Event) { panic("boom") }, "")
	b.Subscribe(func(Event) { secondCalled = true }, "")

	b.Emit(Event{Type: "x"})

	assert.True(t, secondCalled)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var calls int
	sub := b.Subscribe(func(Event) { calls++ }, "")

	b.Emit(Event{Type: "x"})
	sub.Unsubscribe()
	b.Emit(Event{Type: "x"})

	assert.Equal(t, 1, calls)
}

func TestSubscriberCountAndClear(t *testing.T) {
	b := New()
	b.Subscribe(func(Event) {}, "")
	b.Subscribe(func(Event) {}, "s1")
	assert.Equal(t, 2, b.SubscriberCount())

	b.Clear()
	assert.Equal(t, 0, b.SubscriberCount())
}
