package store

import (
    "context"
    "fmt"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "healthnav/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu      sync.Mutex
    locs    map[int64]model.Location
    conds   map[int64]model.Condition
    obs     []model.Observation         // insertion order
    latest  map[[2]int64]int            // (location, condition) -> index into obs
    inv     *model.Inventory
    batches map[string]model.AllocationBatch
    order   []string                    // batch ids, oldest first
    plans   map[string][]model.RoutePlan // batchId -> plans ("" for ad-hoc routes)
    subs    []model.Subscription
    units   map[int64]model.MobileUnit
    // Webhooks queue state
    deliveries map[string]*memDelivery
    deliveryIDs []string
    dlq     []map[string]any
    nextLoc, nextCond, nextObs, nextUnit int64
}

func NewMemory() *Memory {
    return &Memory{
        locs: map[int64]model.Location{},
        conds: map[int64]model.Condition{},
        latest: map[[2]int64]int{},
        batches: map[string]model.AllocationBatch{},
        plans: map[string][]model.RoutePlan{},
        units: map[int64]model.MobileUnit{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling state
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) UpsertLocation(ctx context.Context, loc model.Location) (model.Location, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if loc.ID == 0 { m.nextLoc++; for m.locs[m.nextLoc].ID != 0 { m.nextLoc++ }; loc.ID = m.nextLoc }
    m.locs[loc.ID] = loc
    return loc, nil
}

func (m *Memory) GetLocation(ctx context.Context, id int64) (model.Location, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    l, ok := m.locs[id]
    if !ok { return model.Location{}, fmt.Errorf("location %d: %w", id, ErrNotFound) }
    return l, nil
}

func (m *Memory) GetLocations(ctx context.Context, ids []int64) ([]model.Location, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Location, 0, len(ids))
    for _, id := range ids {
        l, ok := m.locs[id]
        if !ok { return nil, fmt.Errorf("location %d: %w", id, ErrNotFound) }
        out = append(out, l)
    }
    return out, nil
}

func (m *Memory) ListLocations(ctx context.Context) ([]model.Location, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Location, 0, len(m.locs))
    for _, l := range m.locs { out = append(out, l) }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (m *Memory) UpsertCondition(ctx context.Context, c model.Condition) (model.Condition, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if c.ID == 0 { m.nextCond++; for m.conds[m.nextCond].ID != 0 { m.nextCond++ }; c.ID = m.nextCond }
    m.conds[c.ID] = c
    return c, nil
}

func (m *Memory) GetCondition(ctx context.Context, id int64) (model.Condition, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.conds[id]
    if !ok { return model.Condition{}, fmt.Errorf("condition %d: %w", id, ErrNotFound) }
    return c, nil
}

func (m *Memory) ListConditions(ctx context.Context) ([]model.Condition, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Condition, 0, len(m.conds))
    for _, c := range m.conds { out = append(out, c) }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (m *Memory) LatestObservation(ctx context.Context, locationID, conditionID int64) (*model.Observation, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    idx, ok := m.latest[[2]int64{locationID, conditionID}]
    if !ok { return nil, nil }
    o := m.obs[idx]
    return &o, nil
}

func (m *Memory) InsertObservation(ctx context.Context, o model.Observation) (model.Observation, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    m.nextObs++
    o.ID = m.nextObs
    m.obs = append(m.obs, o)
    key := [2]int64{o.LocationID, o.ConditionID}
    // A back-dated report never replaces a newer one; equal timestamps go to the later insert.
    if idx, ok := m.latest[key]; !ok || !o.ReportedAt.Before(m.obs[idx].ReportedAt) {
        m.latest[key] = len(m.obs) - 1
    }
    return o, nil
}

func (m *Memory) LatestObservations(ctx context.Context) ([]model.Observation, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Observation, 0, len(m.latest))
    for _, idx := range m.latest { out = append(out, m.obs[idx]) }
    sort.Slice(out, func(i, j int) bool {
        if out[i].LocationID != out[j].LocationID { return out[i].LocationID < out[j].LocationID }
        return out[i].ConditionID < out[j].ConditionID
    })
    return out, nil
}

func (m *Memory) GetInventory(ctx context.Context) (model.Inventory, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.inv == nil { return model.Inventory{}, model.ErrNoInventory }
    return *m.inv, nil
}

func (m *Memory) SetInventory(ctx context.Context, inv model.Inventory) (model.Inventory, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    inv.UpdatedAt = time.Now().UTC()
    m.inv = &inv
    return inv, nil
}

func (m *Memory) CommitAllocation(ctx context.Context, snapshot, remaining model.Inventory, batch model.AllocationBatch) (model.AllocationBatch, error) {
    if err := ctx.Err(); err != nil { return model.AllocationBatch{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    if m.inv == nil { return model.AllocationBatch{}, model.ErrNoInventory }
    if m.inv.Doctors != snapshot.Doctors || m.inv.Kits != snapshot.Kits { return model.AllocationBatch{}, model.ErrInventoryConflict }
    inv := *m.inv
    inv.Doctors = remaining.Doctors
    inv.Kits = remaining.Kits
    inv.UpdatedAt = remaining.UpdatedAt
    m.inv = &inv
    batch.Details = append([]model.AllocationDetail{}, batch.Details...)
    m.batches[batch.ID] = batch
    m.order = append(m.order, batch.ID)
    return batch, nil
}

func (m *Memory) GetBatch(ctx context.Context, id string) (model.AllocationBatch, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    b, ok := m.batches[id]
    if !ok { return model.AllocationBatch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound) }
    b.Details = append([]model.AllocationDetail{}, b.Details...)
    return b, nil
}

func (m *Memory) ListBatches(ctx context.Context, limit int) ([]model.AllocationBatch, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    out := []model.AllocationBatch{}
    for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
        b := m.batches[m.order[i]]
        b.Details = append([]model.AllocationDetail{}, b.Details...)
        out = append(out, b)
    }
    return out, nil
}

func (m *Memory) UpsertMobileUnit(ctx context.Context, u model.MobileUnit) (model.MobileUnit, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if u.ID == 0 { m.nextUnit++; for m.units[m.nextUnit].ID != 0 { m.nextUnit++ }; u.ID = m.nextUnit }
    m.units[u.ID] = u
    return u, nil
}

func (m *Memory) GetMobileUnit(ctx context.Context, id int64) (model.MobileUnit, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.units[id]
    if !ok { return model.MobileUnit{}, fmt.Errorf("mobile unit %d: %w", id, ErrNotFound) }
    return u, nil
}

func (m *Memory) ListMobileUnits(ctx context.Context) ([]model.MobileUnit, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.MobileUnit, 0, len(m.units))
    for _, u := range m.units { out = append(out, u) }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (m *Memory) Dashboard(ctx context.Context) (model.Dashboard, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d := model.Dashboard{Locations: len(m.locs), Observations: len(m.obs), Batches: len(m.order), OptimizationStatus: "not_optimized"}
    for _, u := range m.units { if u.Active { d.ActiveUnits++ } }
    if n := len(m.order); n > 0 {
        at := m.batches[m.order[n-1]].CreatedAt
        d.LastAllocationAt = &at
        d.OptimizationStatus = "optimized"
    }
    return d, nil
}

func (m *Memory) SaveRoutePlan(ctx context.Context, plan model.RoutePlan) error {
    m.mu.Lock(); defer m.mu.Unlock()
    plan.RouteSequence = append([]int64(nil), plan.RouteSequence...)
    if plan.MobileUnitID != nil { id := *plan.MobileUnitID; plan.MobileUnitID = &id }
    m.plans[plan.BatchID] = append(m.plans[plan.BatchID], plan)
    return nil
}

func (m *Memory) ListRoutePlans(ctx context.Context, batchID string) ([]model.RoutePlan, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.RoutePlan{}, m.plans[batchID]...), nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs = append(m.subs, s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription{}, list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Subscription, 0, len(m.subs))
    found := false
    for _, s := range m.subs { if s.ID != id { out = append(out, s) } else { found = true } }
    if !found { return fmt.Errorf("subscription %s: %w", id, ErrNotFound) }
    m.subs = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil { d.Status = "failed"; d.Attempts++ }
    m.dlq = append(m.dlq, map[string]any{"id": id, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

// DeliveryStatus reports the queue state of a delivery.
func (m *Memory) DeliveryStatus(id string) (status string, attempts int, ok bool) {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return "", 0, false }
    return d.Status, d.Attempts, true
}
