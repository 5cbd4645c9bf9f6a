package api

import (
    "bufio"
    "fmt"
    "net"
    "net/http"
    "strconv"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/go-logr/logr"
    "golang.org/x/time/rate"

    "healthnav/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the recorder.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, fmt.Errorf("%T does not support hijacking", r.ResponseWriter) }
    r.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logMiddleware(log logr.Logger) func(http.Handler) http.Handler {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            start := time.Now()
            rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
            next.ServeHTTP(rec, r)
            log.Info("request", "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
        })
    }
}

// metricsMiddleware labels by route pattern so ids don't explode cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        path := r.URL.Path
        if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
            path = rc.RoutePattern()
        }
        code := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
    })
}

// rateLimit applies one token bucket to the whole API. rps <= 0 disables it.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
    if rps <= 0 {
        return func(next http.Handler) http.Handler { return next }
    }
    if burst < 1 { burst = 1 }
    lim := rate.NewLimiter(rate.Limit(rps), burst)
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            if !lim.Allow() {
                w.Header().Set("Retry-After", "1")
                writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
                return
            }
            next.ServeHTTP(w, r)
        })
    }
}
