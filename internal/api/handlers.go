package api

import (
    "context"
    "errors"
    "fmt"
    "mime"
    "net/http"
    "net/url"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/go-chi/chi/v5"

    "healthnav/internal/advisor"
    "healthnav/internal/model"
    "healthnav/internal/risk"
)

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check Postgres and Redis when they back the server
    type pinger interface{ Ping(ctx context.Context) error }
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
        if p, ok := dep.(pinger); ok {
            if err := p.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", name+": "+err.Error(), r.URL.Path); return }
        }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

func pathID(r *http.Request) (int64, error) {
    id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
    if err != nil || id <= 0 {
        return 0, fmt.Errorf("%w: bad id %q", model.ErrInvalidInput, chi.URLParam(r, "id"))
    }
    return id, nil
}

func queryLimit(r *http.Request, def, max int) int {
    n, err := strconv.Atoi(r.URL.Query().Get("limit"))
    if err != nil || n <= 0 { return def }
    if n > max { return max }
    return n
}

// Locations

func validateLocation(l model.Location) error {
    switch {
    case strings.TrimSpace(l.Name) == "":
        return fmt.Errorf("%w: name is required", model.ErrInvalidInput)
    case l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180:
        return fmt.Errorf("%w: coordinates out of range", model.ErrInvalidInput)
    case l.Population < 0:
        return fmt.Errorf("%w: population must be >= 0", model.ErrInvalidInput)
    case l.VulnerabilityIndex < 0 || l.VulnerabilityIndex > 1:
        return fmt.Errorf("%w: vulnerabilityIndex must be within [0,1]", model.ErrInvalidInput)
    }
    return nil
}

func (s *Server) UpsertLocation(w http.ResponseWriter, r *http.Request) {
    var in model.Location
    if !decodeJSON(w, r, &in) { return }
    if err := validateLocation(in); err != nil { writeError(w, r, "Invalid location", err); return }
    out, err := s.Store.UpsertLocation(r.Context(), in)
    if err != nil { writeError(w, r, "Upsert location failed", err); return }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListLocations(w http.ResponseWriter, r *http.Request) {
    items, err := s.Store.ListLocations(r.Context())
    if err != nil { writeError(w, r, "List locations failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) GetLocation(w http.ResponseWriter, r *http.Request) {
    id, err := pathID(r)
    if err != nil { writeError(w, r, "Invalid location id", err); return }
    loc, err := s.Store.GetLocation(r.Context(), id)
    if err != nil { writeError(w, r, "Location not found", err); return }
    writeJSON(w, http.StatusOK, loc)
}

// Conditions

func (s *Server) UpsertCondition(w http.ResponseWriter, r *http.Request) {
    var in model.Condition
    if !decodeJSON(w, r, &in) { return }
    if strings.TrimSpace(in.Name) == "" || in.SeverityWeight <= 0 {
        writeError(w, r, "Invalid condition", fmt.Errorf("%w: name and severityWeight > 0 are required", model.ErrInvalidInput))
        return
    }
    out, err := s.Store.UpsertCondition(r.Context(), in)
    if err != nil { writeError(w, r, "Upsert condition failed", err); return }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListConditions(w http.ResponseWriter, r *http.Request) {
    items, err := s.Store.ListConditions(r.Context())
    if err != nil { writeError(w, r, "List conditions failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Observations and ranking

func (s *Server) IngestObservations(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Observations []model.ObservationIn `json:"observations"`
    }
    mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
    if dec, ok := s.Decoders.For(mt); ok {
        items, err := dec.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
        if err != nil { writeError(w, r, "Invalid "+dec.Name()+" upload", err); return }
        req.Observations = items
    } else if !decodeJSON(w, r, &req) {
        return
    }
    if len(req.Observations) == 0 {
        writeProblem(w, http.StatusBadRequest, "Invalid request", "observations must not be empty", r.URL.Path)
        return
    }
    results := s.Ingest.IngestBatch(r.Context(), req.Observations)
    accepted := 0
    for _, res := range results {
        if res.Err == nil { accepted++ }
    }
    writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted, "rejected": len(results) - accepted, "results": results})
}

func (s *Server) LatestObservations(w http.ResponseWriter, r *http.Request) {
    items, err := s.Store.LatestObservations(r.Context())
    if err != nil { writeError(w, r, "Latest observations failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ranking reads the latest report per pair and ranks locations by it.
func (s *Server) ranking(ctx context.Context) ([]model.Observation, []model.Candidate, error) {
    latest, err := s.Store.LatestObservations(ctx)
    if err != nil {
        return nil, nil, fmt.Errorf("latest observations: %w", err)
    }
    return latest, risk.Rank(latest), nil
}

func (s *Server) RiskRanking(w http.ResponseWriter, r *http.Request) {
    _, ranked, err := s.ranking(r.Context())
    if err != nil { writeError(w, r, "Ranking failed", err); return }
    if n := queryLimit(r, len(ranked), len(ranked)); n < len(ranked) {
        ranked = ranked[:n]
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": ranked})
}

// Inventory

func (s *Server) GetInventory(w http.ResponseWriter, r *http.Request) {
    inv, err := s.Store.GetInventory(r.Context())
    if errors.Is(err, model.ErrNoInventory) { writeProblem(w, 404, "No inventory", err.Error(), r.URL.Path); return }
    if err != nil { writeError(w, r, "Get inventory failed", err); return }
    writeJSON(w, http.StatusOK, inv)
}

func (s *Server) PutInventory(w http.ResponseWriter, r *http.Request) {
    var in model.Inventory
    if !decodeJSON(w, r, &in) { return }
    if in.Doctors < 0 || in.Nurses < 0 || in.Kits < 0 || in.Vaccines < 0 {
        writeError(w, r, "Invalid inventory", fmt.Errorf("%w: counts must be >= 0", model.ErrInvalidInput))
        return
    }
    out, err := s.Store.SetInventory(r.Context(), in)
    if err != nil { writeError(w, r, "Set inventory failed", err); return }
    writeJSON(w, http.StatusOK, out)
}

// Allocations

func (s *Server) RunAllocation(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Mode string `json:"mode"`
    }
    if r.ContentLength != 0 {
        if !decodeJSON(w, r, &req) { return }
    }
    if req.Mode != "" && req.Mode != "online" && req.Mode != "offline" {
        writeError(w, r, "Invalid mode", fmt.Errorf("%w: mode must be online or offline", model.ErrInvalidInput))
        return
    }
    _, ranked, err := s.ranking(r.Context())
    if err != nil { writeError(w, r, "Ranking failed", err); return }
    batch, err := s.Engine.Allocate(r.Context(), ranked, req.Mode)
    if err != nil { writeError(w, r, "Allocation failed", err); return }
    s.publish(r.Context(), EventAllocationCompleted, map[string]any{
        "batchId":          batch.ID,
        "mode":             batch.Mode,
        "villagesSelected": batch.VillagesSelected,
        "remainingDoctors": batch.RemainingDoctors,
        "remainingKits":    batch.RemainingKits,
    })
    writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) ListAllocations(w http.ResponseWriter, r *http.Request) {
    items, err := s.Store.ListBatches(r.Context(), queryLimit(r, 50, 500))
    if err != nil { writeError(w, r, "List allocations failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) GetAllocation(w http.ResponseWriter, r *http.Request) {
    b, err := s.Store.GetBatch(r.Context(), chi.URLParam(r, "id"))
    if err != nil { writeError(w, r, "Allocation not found", err); return }
    writeJSON(w, http.StatusOK, b)
}

func (s *Server) ListAllocationRoutes(w http.ResponseWriter, r *http.Request) {
    id := chi.URLParam(r, "id")
    if _, err := s.Store.GetBatch(r.Context(), id); err != nil { writeError(w, r, "Allocation not found", err); return }
    plans, err := s.Store.ListRoutePlans(r.Context(), id)
    if err != nil { writeError(w, r, "List routes failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": plans})
}

// Mobile units

func (s *Server) UpsertMobileUnit(w http.ResponseWriter, r *http.Request) {
    var in model.MobileUnit
    if !decodeJSON(w, r, &in) { return }
    switch {
    case strings.TrimSpace(in.Name) == "":
        writeError(w, r, "Invalid mobile unit", fmt.Errorf("%w: name is required", model.ErrInvalidInput))
        return
    case in.DoctorsCapacity < 0 || in.KitsCapacity < 0:
        writeError(w, r, "Invalid mobile unit", fmt.Errorf("%w: capacities must be >= 0", model.ErrInvalidInput))
        return
    }
    out, err := s.Store.UpsertMobileUnit(r.Context(), in)
    if err != nil { writeError(w, r, "Upsert mobile unit failed", err); return }
    writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListMobileUnits(w http.ResponseWriter, r *http.Request) {
    units, err := s.Store.ListMobileUnits(r.Context())
    if err != nil { writeError(w, r, "List mobile units failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": units})
}

// Dashboard

func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
    d, err := s.Store.Dashboard(r.Context())
    if err != nil { writeError(w, r, "Dashboard failed", err); return }
    writeJSON(w, http.StatusOK, d)
}

// Routes

type routeRequest struct {
    LocationIDs  []int64 `json:"locationIds"`
    BatchID      string  `json:"batchId"`
    MobileUnitID *int64  `json:"mobileUnitId"`
}

// routeLocations resolves the stop list. For a batch the details in rank
// order give the sequence, so the top priority location is the start.
func (s *Server) routeLocations(ctx context.Context, req routeRequest) ([]model.Location, error) {
    ids := req.LocationIDs
    switch {
    case req.BatchID != "" && len(ids) > 0:
        return nil, fmt.Errorf("%w: give locationIds or batchId, not both", model.ErrInvalidInput)
    case req.BatchID != "":
        b, err := s.Store.GetBatch(ctx, req.BatchID)
        if err != nil {
            return nil, fmt.Errorf("batch %s: %w", req.BatchID, err)
        }
        details := append([]model.AllocationDetail(nil), b.Details...)
        sort.SliceStable(details, func(i, j int) bool { return details[i].Rank < details[j].Rank })
        for _, d := range details {
            ids = append(ids, d.LocationID)
        }
        if len(ids) == 0 {
            return nil, fmt.Errorf("%w: batch %s selected no locations", model.ErrInvalidInput, req.BatchID)
        }
    case len(ids) == 0:
        return nil, fmt.Errorf("%w: locationIds or batchId is required", model.ErrInvalidInput)
    }
    return s.Store.GetLocations(ctx, ids)
}

// routeUnit checks that the requested van is active and, for a batch
// route, can carry everything the batch allocated.
func (s *Server) routeUnit(ctx context.Context, req routeRequest) error {
    if req.MobileUnitID == nil { return nil }
    u, err := s.Store.GetMobileUnit(ctx, *req.MobileUnitID)
    if err != nil { return err }
    if !u.Active {
        return fmt.Errorf("%w: mobile unit %d is not active", model.ErrInvalidInput, u.ID)
    }
    if req.BatchID == "" { return nil }
    b, err := s.Store.GetBatch(ctx, req.BatchID)
    if err != nil { return fmt.Errorf("batch %s: %w", req.BatchID, err) }
    var doctors, kits int
    for _, d := range b.Details {
        doctors += d.Doctors
        kits += d.Kits
    }
    if doctors > u.DoctorsCapacity || kits > u.KitsCapacity {
        return fmt.Errorf("%w: mobile unit %d carries %d doctors and %d kits, batch needs %d and %d",
            model.ErrInvalidInput, u.ID, u.DoctorsCapacity, u.KitsCapacity, doctors, kits)
    }
    return nil
}

func (s *Server) PlanRoute(w http.ResponseWriter, r *http.Request) {
    var req routeRequest
    if !decodeJSON(w, r, &req) { return }
    locs, err := s.routeLocations(r.Context(), req)
    if err != nil { writeError(w, r, "Invalid route request", err); return }
    if err := s.routeUnit(r.Context(), req); err != nil { writeError(w, r, "Invalid mobile unit", err); return }
    if s.Graphs == nil {
        writeError(w, r, "Route planning failed", fmt.Errorf("%w: no road graph configured", model.ErrOracleUnavailable))
        return
    }
    g, err := s.Graphs.ForAnchor(r.Context(), locs[0].Latitude, locs[0].Longitude)
    if err != nil { writeError(w, r, "Road graph unavailable", err); return }
    plan, err := s.Planner.Plan(r.Context(), g, locs)
    if err != nil { writeError(w, r, "Route planning failed", err); return }
    plan.BatchID = req.BatchID
    plan.MobileUnitID = req.MobileUnitID
    if err := s.Store.SaveRoutePlan(r.Context(), plan); err != nil {
        writeError(w, r, "Save route failed", err)
        return
    }
    s.publish(r.Context(), EventRoutePlanned, map[string]any{
        "batchId":                    plan.BatchID,
        "mobileUnitId":               plan.MobileUnitID,
        "route_sequence":             plan.RouteSequence,
        "total_distance_km":          plan.TotalDistanceKm,
        "total_mission_time_minutes": plan.TotalMissionTimeMinutes,
    })
    writeJSON(w, http.StatusOK, plan)
}

// Strategy

func (s *Server) DecideStrategy(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    latest, ranked, err := s.ranking(ctx)
    if err != nil { writeError(w, r, "Ranking failed", err); return }
    locs, err := s.Store.ListLocations(ctx)
    if err != nil { writeError(w, r, "List locations failed", err); return }
    names := make(map[int64]string, len(locs))
    for _, l := range locs {
        names[l.ID] = l.Name
    }
    var inv *model.Inventory
    if i, err := s.Store.GetInventory(ctx); err == nil {
        inv = &i
    } else if !errors.Is(err, model.ErrNoInventory) {
        writeError(w, r, "Get inventory failed", err)
        return
    }

    summary := advisor.Summarize(latest, ranked, names, inv, 5)
    d, err := s.Advisor.Decide(ctx, summary)
    if err != nil { writeError(w, r, "Strategy advisor failed", err); return }
    s.publish(ctx, EventStrategyDecided, map[string]any{"decision": d.Decision, "reason": d.Reason, "source": d.Source})
    writeJSON(w, http.StatusOK, map[string]any{"decision": d, "summary": summary})
}

// Subscriptions

func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
    var req model.SubscriptionRequest
    if !decodeJSON(w, r, &req) { return }
    if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url must be an absolute http(s) URL", r.URL.Path)
        return
    }
    if len(req.Events) == 0 {
        writeProblem(w, http.StatusBadRequest, "Invalid subscription", "events must not be empty", r.URL.Path)
        return
    }
    for _, e := range req.Events {
        if !knownEvent(e) {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "unknown event "+e, r.URL.Path)
            return
        }
    }
    sub, err := s.Store.CreateSubscription(r.Context(), req)
    if err != nil { writeError(w, r, "Create subscription failed", err); return }
    writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
    items, next, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("cursor"), queryLimit(r, 100, 500))
    if err != nil { writeError(w, r, "List subscriptions failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
    if err := s.Store.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
        writeError(w, r, "Delete subscription failed", err)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

func knownEvent(e string) bool {
    for _, k := range allEvents {
        if k == e { return true }
    }
    return false
}
