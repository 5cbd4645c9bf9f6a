package api

import (
    "net/http"

    "github.com/go-chi/chi/v5"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "healthnav/internal/auth"
    "healthnav/internal/metrics"
)

// Routes builds the HTTP surface.
func (s *Server) Routes() http.Handler {
    metrics.RegisterDefault()

    r := chi.NewRouter()
    r.Use(logMiddleware(s.Log.WithName("http")))
    r.Use(metricsMiddleware)

    r.Get("/healthz", s.HealthHandler)
    r.Get("/readyz", s.ReadyHandler)
    r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    r.Get("/openapi.yaml", s.OpenAPIHandler)
    r.Get("/openapi.json", s.OpenAPIJSONHandler)

    r.Group(func(r chi.Router) {
        r.Use(rateLimit(s.Config.RateRPS, s.Config.RateBurst))
        r.Use(s.authenticate)

        r.With(requireRole(auth.RoleAdmin)).Get("/debug/info", s.DebugJSON)

        r.Route("/v1", func(r chi.Router) {
            r.Get("/locations", s.ListLocations)
            r.Get("/locations/{id}", s.GetLocation)
            r.Get("/conditions", s.ListConditions)
            r.Get("/observations/latest", s.LatestObservations)
            r.Get("/risk/ranking", s.RiskRanking)
            r.Get("/inventory", s.GetInventory)
            r.Get("/units", s.ListMobileUnits)
            r.Get("/allocations", s.ListAllocations)
            r.Get("/allocations/{id}", s.GetAllocation)
            r.Get("/allocations/{id}/routes", s.ListAllocationRoutes)
            r.Get("/events/stream", s.EventStream)
            r.Get("/events/ws", s.EventWS)

            r.Group(func(r chi.Router) {
                r.Use(requireRole(auth.RoleAdmin, auth.RoleOfficer))
                r.Post("/observations", s.IngestObservations)
                r.Post("/allocations", s.RunAllocation)
                r.Post("/strategy", s.DecideStrategy)
                r.Get("/dashboard", s.Dashboard)
            })

            r.With(requireRole(auth.RoleAdmin, auth.RoleOfficer, auth.RoleDriver)).Post("/routes", s.PlanRoute)

            r.Group(func(r chi.Router) {
                r.Use(requireRole(auth.RoleAdmin))
                r.Post("/locations", s.UpsertLocation)
                r.Post("/conditions", s.UpsertCondition)
                r.Post("/units", s.UpsertMobileUnit)
                r.Put("/inventory", s.PutInventory)
                r.Post("/subscriptions", s.CreateSubscription)
                r.Get("/subscriptions", s.ListSubscriptions)
                r.Delete("/subscriptions/{id}", s.DeleteSubscription)
            })
        })
    })
    return r
}
