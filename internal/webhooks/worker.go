package webhooks

import (
    "bytes"
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/go-logr/logr"

    "healthnav/internal/metrics"
    "healthnav/internal/store"
)

type Worker struct {
    Store store.Store
    HTTP  *http.Client
    Stop  chan struct{}
    MaxAttempts int
    Log   logr.Logger
}

func NewWorker(s store.Store, maxAttempts int, log logr.Logger) *Worker {
    if maxAttempts <= 0 { maxAttempts = 10 }
    return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Stop: make(chan struct{}), MaxAttempts: maxAttempts, Log: log}
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(1 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
    if err != nil { w.Log.Error(err, "fetch due webhook deliveries"); return }
    for _, it := range items {
        success := false
        next := time.Now().Add(nextBackoff(it.Attempts))
        req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
        if err != nil {
            _ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
            metrics.WebhookDeliveries.WithLabelValues(it.EventType, "failed").Inc()
            continue
        }
        req.Header.Set("Content-Type", "application/json")
        req.Header.Set("X-Event-Type", it.EventType)
        req.Header.Set("X-Delivery-Attempt", strconv.Itoa(it.Attempts+1))
        if it.Secret != "" {
            req.Header.Set("X-Signature", SignHMAC(it.Secret, time.Now(), it.Payload))
        }
        start := time.Now()
        resp, err := w.HTTP.Do(req)
        latency := int(time.Since(start).Milliseconds())
        code := 0
        if err == nil && resp != nil {
            code = resp.StatusCode
            if resp.Body != nil { _ = resp.Body.Close() }
            if code >= 200 && code < 300 { success = true }
        }
        lastErr := ""
        if !success {
            if err != nil { lastErr = err.Error() } else { lastErr = "status " + strconv.Itoa(code) }
        }
        status := "delivered"
        switch {
        case success:
            _ = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
        case it.Attempts+1 >= w.MaxAttempts:
            status = "failed"
            _ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
            w.Log.Info("webhook dead-lettered", "id", it.ID, "event", it.EventType, "attempts", it.Attempts+1, "error", lastErr)
        default:
            status = "retry"
            _ = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
        }
        metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
        metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
    }
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
