package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    "github.com/go-logr/logr"
    redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every replica's
// streams see events published by any other.
type RedisBroker struct {
    rdb    *redis.Client
    prefix string
    log    logr.Logger

    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(ctx context.Context, url string, log logr.Logger) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return &RedisBroker{rdb: rdb, prefix: "healthnav:events:", log: log, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(topic string) chan SSEEvent {
    ch := make(chan SSEEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.prefix+topic)
    // wait for the subscription confirmation so no publish after return is missed
    if _, err := ps.Receive(ctx); err != nil {
        b.log.Error(err, "redis subscribe", "topic", topic)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
                b.log.V(1).Info("dropping malformed event", "topic", topic, "err", err.Error())
                continue
            }
            select { case ch <- evt: default: }
        }
    }()
    return ch
}

// Unsubscribe closes the PubSub; the forwarding goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(topic string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil {
        b.log.Error(err, "encode event", "topic", topic)
        return
    }
    if err := b.rdb.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
        b.log.Error(err, "redis publish", "topic", topic)
    }
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }
