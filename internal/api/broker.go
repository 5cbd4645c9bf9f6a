package api

import (
    "sync"
)

// Event types fanned out to streams and webhooks.
const (
    EventAllocationCompleted = "allocation.completed"
    EventRoutePlanned        = "route.planned"
    EventStrategyDecided     = "strategy.decided"
)

var allEvents = []string{EventAllocationCompleted, EventRoutePlanned, EventStrategyDecided}

type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// EventBroker fans events out by topic. Unsubscribe closes the channel.
type EventBroker interface {
    Subscribe(topic string) chan SSEEvent
    Unsubscribe(topic string, ch chan SSEEvent)
    Publish(topic string, evt SSEEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[topic] == nil { b.subs[topic] = map[chan SSEEvent]struct{}{} }
    b.subs[topic][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[topic]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, topic) }
    close(ch)
}

func (b *Broker) Publish(topic string, evt SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for ch := range b.subs[topic] {
        select { case ch <- evt: default: }
    }
}
