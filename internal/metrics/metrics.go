package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // ObservationsIngested counts ingested reports by outcome (ok, invalid, not_found, error)
    ObservationsIngested = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "observations_ingested_total", Help: "Outbreak observations by ingestion outcome."},
        []string{"outcome"},
    )
    // AllocationRuns counts allocation runs by outcome (ok, no_inventory, conflict, error)
    AllocationRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "allocation_runs_total", Help: "Allocation runs by outcome."},
        []string{"outcome"},
    )
    // AllocationSelected tracks how many locations each run served
    AllocationSelected = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "allocation_locations_selected", Help: "Locations selected per allocation run.", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}},
    )
    // RoutePlans counts route constructions by outcome (ok, invalid, oracle_unavailable)
    RoutePlans = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_plans_total", Help: "Route plans by outcome."},
        []string{"outcome"},
    )
    // OracleQueries counts road graph queries by operation and status
    OracleQueries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "roadgraph_queries_total", Help: "Road graph oracle queries by operation and status."},
        []string{"op", "status"},
    )
    // OracleLatency tracks oracle query latency in seconds
    OracleLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "roadgraph_query_duration_seconds", Help: "Road graph oracle query latency in seconds.", Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3}},
        []string{"op"},
    )
    // GraphBuilds counts road graph loads per region by status
    GraphBuilds = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "roadgraph_builds_total", Help: "Road graph builds by status."},
        []string{"status"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(ObservationsIngested)
        Registry.MustRegister(AllocationRuns)
        Registry.MustRegister(AllocationSelected)
        Registry.MustRegister(RoutePlans)
        Registry.MustRegister(OracleQueries)
        Registry.MustRegister(OracleLatency)
        Registry.MustRegister(GraphBuilds)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
