package api

import (
    "testing"
    "time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe(EventRoutePlanned)
    other := b.Subscribe(EventAllocationCompleted)

    evt := SSEEvent{Type: EventRoutePlanned, Data: map[string]any{"stops": 3}}
    b.Publish(EventRoutePlanned, evt)

    select {
    case got := <-ch:
        if got.Type != evt.Type { t.Fatalf("got type %s, want %s", got.Type, evt.Type) }
        if got.Data["stops"].(int) != 3 { t.Fatalf("bad payload: %+v", got.Data) }
    case <-time.After(200 * time.Millisecond):
        t.Fatal("timeout waiting for event")
    }
    select {
    case got := <-other:
        t.Fatalf("event leaked to another topic: %+v", got)
    default:
    }

    b.Unsubscribe(EventRoutePlanned, ch)
    if _, ok := <-ch; ok { t.Fatal("channel should be closed after unsubscribe") }
    // second unsubscribe is a no-op
    b.Unsubscribe(EventRoutePlanned, ch)
    b.Publish(EventRoutePlanned, evt)
    b.Unsubscribe(EventAllocationCompleted, other)
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe(EventStrategyDecided)
    defer b.Unsubscribe(EventStrategyDecided, ch)
    for i := 0; i < 20; i++ {
        b.Publish(EventStrategyDecided, SSEEvent{Type: EventStrategyDecided})
    }
    if len(ch) != cap(ch) { t.Fatalf("want full buffer %d, got %d", cap(ch), len(ch)) }
}
