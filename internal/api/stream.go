package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/gorilla/websocket"
)

const heartbeatEvery = 15 * time.Second

// requestedEvents reads ?types=a,b and defaults to every event type.
func requestedEvents(r *http.Request) ([]string, error) {
    raw := strings.TrimSpace(r.URL.Query().Get("types"))
    if raw == "" {
        return allEvents, nil
    }
    var out []string
    for _, t := range strings.Split(raw, ",") {
        t = strings.TrimSpace(t)
        if !knownEvent(t) {
            return nil, fmt.Errorf("unknown event type %q", t)
        }
        out = append(out, t)
    }
    return out, nil
}

// subscribe merges the broker topics into one channel that is closed once
// ctx is done and every topic has been unsubscribed.
func (s *Server) subscribe(ctx context.Context, topics []string) <-chan SSEEvent {
    out := make(chan SSEEvent, 16)
    var wg sync.WaitGroup
    for _, t := range topics {
        ch := s.Broker.Subscribe(t)
        wg.Add(1)
        go func(topic string, ch chan SSEEvent) {
            defer wg.Done()
            defer s.Broker.Unsubscribe(topic, ch)
            for {
                select {
                case <-ctx.Done():
                    return
                case evt, ok := <-ch:
                    if !ok { return }
                    select {
                    case out <- evt:
                    case <-ctx.Done():
                        return
                    }
                }
            }
        }(t, ch)
    }
    go func() { wg.Wait(); close(out) }()
    return out
}

// EventStream serves GET /v1/events/stream as server-sent events.
func (s *Server) EventStream(w http.ResponseWriter, r *http.Request) {
    types, err := requestedEvents(r)
    if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid types", err.Error(), r.URL.Path); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")

    ctx, cancel := context.WithCancel(r.Context())
    defer cancel()
    events := s.subscribe(ctx, types)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    ticker := time.NewTicker(heartbeatEvery)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case evt, ok := <-events:
            if !ok { return }
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        case <-ticker.C:
            heartbeat()
        }
    }
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data,omitempty"`
}

// EventWS serves GET /v1/events/ws. Each event is one JSON text frame
// {"type": ..., "data": ...}. Client frames are read only to detect close
// and answer {"type":"ping"}.
func (s *Server) EventWS(w http.ResponseWriter, r *http.Request) {
    types, err := requestedEvents(r)
    if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid types", err.Error(), r.URL.Path); return }
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    // gorilla connections allow one concurrent writer
    var wmu sync.Mutex
    write := func(v any) error {
        wmu.Lock()
        defer wmu.Unlock()
        _ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
        return conn.WriteJSON(v)
    }

    ctx, cancel := context.WithCancel(r.Context())
    defer cancel()

    conn.SetReadLimit(1 << 16)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
    go func() {
        defer cancel()
        for {
            var msg wsMessage
            if err := conn.ReadJSON(&msg); err != nil {
                return
            }
            _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
            if msg.Type == "ping" {
                if err := write(wsMessage{Type: "pong"}); err != nil { return }
            }
        }
    }()

    events := s.subscribe(ctx, types)
    ticker := time.NewTicker(heartbeatEvery)
    defer ticker.Stop()
    if err := write(wsMessage{Type: "connection_ack"}); err != nil { return }
    for {
        select {
        case <-ctx.Done():
            return
        case evt, ok := <-events:
            if !ok { return }
            if err := write(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil { return }
        case <-ticker.C:
            wmu.Lock()
            err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
            wmu.Unlock()
            if err != nil { return }
        }
    }
}
