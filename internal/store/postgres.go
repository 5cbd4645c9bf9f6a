package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    _ "embed"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "healthnav/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
    _, err := p.db.ExecContext(ctx, schemaSQL)
    return err
}

// Reference data

func (p *Postgres) UpsertLocation(ctx context.Context, loc model.Location) (model.Location, error) {
    if loc.ID == 0 {
        err := p.db.QueryRowContext(ctx, `INSERT INTO locations (name, latitude, longitude, population, vulnerability_index, last_visit_at) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
            loc.Name, loc.Latitude, loc.Longitude, loc.Population, loc.VulnerabilityIndex, loc.LastVisitAt).Scan(&loc.ID)
        return loc, err
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return loc, err }
    defer func(){ _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO locations (id, name, latitude, longitude, population, vulnerability_index, last_visit_at) VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, latitude=EXCLUDED.latitude, longitude=EXCLUDED.longitude, population=EXCLUDED.population, vulnerability_index=EXCLUDED.vulnerability_index, last_visit_at=EXCLUDED.last_visit_at`,
        loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.Population, loc.VulnerabilityIndex, loc.LastVisitAt)
    if err != nil { return loc, err }
    // keep the serial ahead of explicitly seeded ids
    if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('locations','id'), GREATEST((SELECT MAX(id) FROM locations), 1))`); err != nil { return loc, err }
    return loc, tx.Commit()
}

const locationCols = `id, name, latitude, longitude, population, vulnerability_index, last_visit_at`

func scanLocation(row interface{ Scan(...any) error }) (model.Location, error) {
    var l model.Location
    var visit sql.NullTime
    if err := row.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.Population, &l.VulnerabilityIndex, &visit); err != nil { return l, err }
    if visit.Valid { t := visit.Time.UTC(); l.LastVisitAt = &t }
    return l, nil
}

func (p *Postgres) GetLocation(ctx context.Context, id int64) (model.Location, error) {
    l, err := scanLocation(p.db.QueryRowContext(ctx, `SELECT `+locationCols+` FROM locations WHERE id=$1`, id))
    if errors.Is(err, sql.ErrNoRows) { return l, fmt.Errorf("location %d: %w", id, ErrNotFound) }
    return l, err
}

func (p *Postgres) GetLocations(ctx context.Context, ids []int64) ([]model.Location, error) {
    if len(ids) == 0 { return []model.Location{}, nil }
    rows, err := p.db.QueryContext(ctx, `SELECT `+locationCols+` FROM locations WHERE id = ANY($1)`, ids)
    if err != nil { return nil, err }
    defer rows.Close()
    byID := map[int64]model.Location{}
    for rows.Next() {
        l, err := scanLocation(rows)
        if err != nil { return nil, err }
        byID[l.ID] = l
    }
    if err := rows.Err(); err != nil { return nil, err }
    out := make([]model.Location, 0, len(ids))
    for _, id := range ids {
        l, ok := byID[id]
        if !ok { return nil, fmt.Errorf("location %d: %w", id, ErrNotFound) }
        out = append(out, l)
    }
    return out, nil
}

func (p *Postgres) ListLocations(ctx context.Context) ([]model.Location, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+locationCols+` FROM locations ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Location{}
    for rows.Next() {
        l, err := scanLocation(rows)
        if err != nil { return nil, err }
        out = append(out, l)
    }
    return out, rows.Err()
}

func (p *Postgres) UpsertCondition(ctx context.Context, c model.Condition) (model.Condition, error) {
    if c.ID == 0 {
        err := p.db.QueryRowContext(ctx, `INSERT INTO conditions (name, severity_weight) VALUES ($1,$2)
            ON CONFLICT (name) DO UPDATE SET severity_weight=EXCLUDED.severity_weight RETURNING id`, c.Name, c.SeverityWeight).Scan(&c.ID)
        return c, err
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return c, err }
    defer func(){ _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO conditions (id, name, severity_weight) VALUES ($1,$2,$3)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, severity_weight=EXCLUDED.severity_weight`, c.ID, c.Name, c.SeverityWeight)
    if err != nil { return c, err }
    if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('conditions','id'), GREATEST((SELECT MAX(id) FROM conditions), 1))`); err != nil { return c, err }
    return c, tx.Commit()
}

func (p *Postgres) GetCondition(ctx context.Context, id int64) (model.Condition, error) {
    var c model.Condition
    err := p.db.QueryRowContext(ctx, `SELECT id, name, severity_weight FROM conditions WHERE id=$1`, id).Scan(&c.ID, &c.Name, &c.SeverityWeight)
    if errors.Is(err, sql.ErrNoRows) { return c, fmt.Errorf("condition %d: %w", id, ErrNotFound) }
    return c, err
}

func (p *Postgres) ListConditions(ctx context.Context) ([]model.Condition, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, name, severity_weight FROM conditions ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Condition{}
    for rows.Next() {
        var c model.Condition
        if err := rows.Scan(&c.ID, &c.Name, &c.SeverityWeight); err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

// Observations

const observationCols = `id, location_id, condition_id, reported_at, tests_done, positive_cases, positivity_rate, spread_velocity, risk_score, COALESCE(reporter_type,''), COALESCE(confidence_score,0)`

func scanObservation(row interface{ Scan(...any) error }) (model.Observation, error) {
    var o model.Observation
    err := row.Scan(&o.ID, &o.LocationID, &o.ConditionID, &o.ReportedAt, &o.TestsDone, &o.PositiveCases, &o.PositivityRate, &o.SpreadVelocity, &o.RiskScore, &o.ReporterType, &o.ConfidenceScore)
    o.ReportedAt = o.ReportedAt.UTC()
    return o, err
}

func (p *Postgres) LatestObservation(ctx context.Context, locationID, conditionID int64) (*model.Observation, error) {
    o, err := scanObservation(p.db.QueryRowContext(ctx, `SELECT `+observationCols+` FROM observations WHERE location_id=$1 AND condition_id=$2 ORDER BY reported_at DESC, id DESC LIMIT 1`, locationID, conditionID))
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return &o, nil
}

func (p *Postgres) InsertObservation(ctx context.Context, o model.Observation) (model.Observation, error) {
    err := p.db.QueryRowContext(ctx, `INSERT INTO observations (location_id, condition_id, reported_at, tests_done, positive_cases, positivity_rate, spread_velocity, risk_score, reporter_type, confidence_score)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
        o.LocationID, o.ConditionID, o.ReportedAt, o.TestsDone, o.PositiveCases, o.PositivityRate, o.SpreadVelocity, o.RiskScore, nullIfEmpty(o.ReporterType), o.ConfidenceScore).Scan(&o.ID)
    return o, err
}

func (p *Postgres) LatestObservations(ctx context.Context) ([]model.Observation, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT ON (location_id, condition_id) `+observationCols+`
        FROM observations ORDER BY location_id, condition_id, reported_at DESC, id DESC`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Observation{}
    for rows.Next() {
        o, err := scanObservation(rows)
        if err != nil { return nil, err }
        out = append(out, o)
    }
    return out, rows.Err()
}

// Inventory & allocation batches

func (p *Postgres) GetInventory(ctx context.Context) (model.Inventory, error) {
    var inv model.Inventory
    err := p.db.QueryRowContext(ctx, `SELECT doctors, nurses, kits, vaccines, updated_at FROM inventory WHERE id=1`).Scan(&inv.Doctors, &inv.Nurses, &inv.Kits, &inv.Vaccines, &inv.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return inv, model.ErrNoInventory }
    return inv, err
}

func (p *Postgres) SetInventory(ctx context.Context, inv model.Inventory) (model.Inventory, error) {
    err := p.db.QueryRowContext(ctx, `INSERT INTO inventory (id, doctors, nurses, kits, vaccines, updated_at) VALUES (1,$1,$2,$3,$4,now())
        ON CONFLICT (id) DO UPDATE SET doctors=EXCLUDED.doctors, nurses=EXCLUDED.nurses, kits=EXCLUDED.kits, vaccines=EXCLUDED.vaccines, updated_at=now()
        RETURNING updated_at`, inv.Doctors, inv.Nurses, inv.Kits, inv.Vaccines).Scan(&inv.UpdatedAt)
    return inv, err
}

// CommitAllocation locks the inventory row, checks it against the snapshot the
// run planned from, then writes the decrement and the batch in one transaction.
func (p *Postgres) CommitAllocation(ctx context.Context, snapshot, remaining model.Inventory, batch model.AllocationBatch) (model.AllocationBatch, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.AllocationBatch{}, err }
    defer func(){ _ = tx.Rollback() }()

    var doctors, kits int
    err = tx.QueryRowContext(ctx, `SELECT doctors, kits FROM inventory WHERE id=1 FOR UPDATE`).Scan(&doctors, &kits)
    if errors.Is(err, sql.ErrNoRows) { return model.AllocationBatch{}, model.ErrNoInventory }
    if err != nil { return model.AllocationBatch{}, err }
    if doctors != snapshot.Doctors || kits != snapshot.Kits { return model.AllocationBatch{}, model.ErrInventoryConflict }

    if _, err := tx.ExecContext(ctx, `UPDATE inventory SET doctors=$1, kits=$2, updated_at=$3 WHERE id=1`, remaining.Doctors, remaining.Kits, batch.CreatedAt); err != nil {
        return model.AllocationBatch{}, err
    }
    if _, err := tx.ExecContext(ctx, `INSERT INTO allocation_batches (id, created_at, mode, villages_selected, remaining_doctors, remaining_kits) VALUES ($1,$2,$3,$4,$5,$6)`,
        batch.ID, batch.CreatedAt, batch.Mode, batch.VillagesSelected, batch.RemainingDoctors, batch.RemainingKits); err != nil {
        return model.AllocationBatch{}, err
    }
    for _, d := range batch.Details {
        if _, err := tx.ExecContext(ctx, `INSERT INTO allocation_details (batch_id, rank, location_id, doctors, kits, priority_score) VALUES ($1,$2,$3,$4,$5,$6)`,
            batch.ID, d.Rank, d.LocationID, d.Doctors, d.Kits, d.PriorityScore); err != nil {
            return model.AllocationBatch{}, err
        }
    }
    if err := tx.Commit(); err != nil { return model.AllocationBatch{}, err }
    return batch, nil
}

func (p *Postgres) GetBatch(ctx context.Context, id string) (model.AllocationBatch, error) {
    if _, err := uuid.Parse(id); err != nil { return model.AllocationBatch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound) }
    var b model.AllocationBatch
    err := p.db.QueryRowContext(ctx, `SELECT id::text, created_at, mode, villages_selected, remaining_doctors, remaining_kits FROM allocation_batches WHERE id=$1`, id).
        Scan(&b.ID, &b.CreatedAt, &b.Mode, &b.VillagesSelected, &b.RemainingDoctors, &b.RemainingKits)
    if errors.Is(err, sql.ErrNoRows) { return b, fmt.Errorf("batch %s: %w", id, ErrNotFound) }
    if err != nil { return b, err }
    b.CreatedAt = b.CreatedAt.UTC()
    b.Details, err = p.batchDetails(ctx, id)
    return b, err
}

func (p *Postgres) batchDetails(ctx context.Context, id string) ([]model.AllocationDetail, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT rank, location_id, doctors, kits, priority_score FROM allocation_details WHERE batch_id=$1 ORDER BY rank`, id)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.AllocationDetail{}
    for rows.Next() {
        var d model.AllocationDetail
        if err := rows.Scan(&d.Rank, &d.LocationID, &d.Doctors, &d.Kits, &d.PriorityScore); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) ListBatches(ctx context.Context, limit int) ([]model.AllocationBatch, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, created_at, mode, villages_selected, remaining_doctors, remaining_kits FROM allocation_batches ORDER BY created_at DESC, id LIMIT $1`, limit)
    if err != nil { return nil, err }
    out := []model.AllocationBatch{}
    for rows.Next() {
        var b model.AllocationBatch
        if err := rows.Scan(&b.ID, &b.CreatedAt, &b.Mode, &b.VillagesSelected, &b.RemainingDoctors, &b.RemainingKits); err != nil { rows.Close(); return nil, err }
        b.CreatedAt = b.CreatedAt.UTC()
        out = append(out, b)
    }
    rows.Close()
    if err := rows.Err(); err != nil { return nil, err }
    for i := range out {
        if out[i].Details, err = p.batchDetails(ctx, out[i].ID); err != nil { return nil, err }
    }
    return out, nil
}

// Mobile units

func (p *Postgres) UpsertMobileUnit(ctx context.Context, u model.MobileUnit) (model.MobileUnit, error) {
    if u.ID == 0 {
        err := p.db.QueryRowContext(ctx, `INSERT INTO mobile_units (name, doctors_capacity, kits_capacity, active) VALUES ($1,$2,$3,$4) RETURNING id`,
            u.Name, u.DoctorsCapacity, u.KitsCapacity, u.Active).Scan(&u.ID)
        return u, err
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return u, err }
    defer func() { _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO mobile_units (id, name, doctors_capacity, kits_capacity, active) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, doctors_capacity=EXCLUDED.doctors_capacity, kits_capacity=EXCLUDED.kits_capacity, active=EXCLUDED.active`,
        u.ID, u.Name, u.DoctorsCapacity, u.KitsCapacity, u.Active)
    if err != nil { return u, err }
    if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('mobile_units','id'), GREATEST((SELECT MAX(id) FROM mobile_units), 1))`); err != nil { return u, err }
    return u, tx.Commit()
}

const unitCols = `id, name, doctors_capacity, kits_capacity, active`

func (p *Postgres) GetMobileUnit(ctx context.Context, id int64) (model.MobileUnit, error) {
    var u model.MobileUnit
    err := p.db.QueryRowContext(ctx, `SELECT `+unitCols+` FROM mobile_units WHERE id=$1`, id).Scan(&u.ID, &u.Name, &u.DoctorsCapacity, &u.KitsCapacity, &u.Active)
    if errors.Is(err, sql.ErrNoRows) { return u, fmt.Errorf("mobile unit %d: %w", id, ErrNotFound) }
    return u, err
}

func (p *Postgres) ListMobileUnits(ctx context.Context) ([]model.MobileUnit, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+unitCols+` FROM mobile_units ORDER BY id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.MobileUnit{}
    for rows.Next() {
        var u model.MobileUnit
        if err := rows.Scan(&u.ID, &u.Name, &u.DoctorsCapacity, &u.KitsCapacity, &u.Active); err != nil { return nil, err }
        out = append(out, u)
    }
    return out, rows.Err()
}

func (p *Postgres) Dashboard(ctx context.Context) (model.Dashboard, error) {
    d := model.Dashboard{OptimizationStatus: "not_optimized"}
    var last sql.NullTime
    err := p.db.QueryRowContext(ctx, `SELECT
        (SELECT COUNT(*) FROM locations),
        (SELECT COUNT(*) FROM observations),
        (SELECT COUNT(*) FROM allocation_batches),
        (SELECT COUNT(*) FROM mobile_units WHERE active),
        (SELECT MAX(created_at) FROM allocation_batches)`).Scan(&d.Locations, &d.Observations, &d.Batches, &d.ActiveUnits, &last)
    if err != nil { return d, err }
    if last.Valid {
        t := last.Time.UTC()
        d.LastAllocationAt = &t
        d.OptimizationStatus = "optimized"
    }
    return d, nil
}

// Route plans

func (p *Postgres) SaveRoutePlan(ctx context.Context, plan model.RoutePlan) error {
    seq, err := json.Marshal(plan.RouteSequence)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO route_plans (batch_id, mobile_unit_id, mode, route_sequence, total_distance_km, travel_time_minutes, treatment_time_minutes, total_mission_time_minutes) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8)`,
        nullIfEmpty(plan.BatchID), plan.MobileUnitID, plan.Mode, string(seq), plan.TotalDistanceKm, plan.TravelTimeMinutes, plan.TreatmentTimeMinutes, plan.TotalMissionTimeMinutes)
    return err
}

func (p *Postgres) ListRoutePlans(ctx context.Context, batchID string) ([]model.RoutePlan, error) {
    var rows *sql.Rows
    var err error
    q := `SELECT COALESCE(batch_id::text,''), mobile_unit_id, mode, route_sequence, total_distance_km, travel_time_minutes, treatment_time_minutes, total_mission_time_minutes FROM route_plans`
    if batchID == "" {
        rows, err = p.db.QueryContext(ctx, q+` WHERE batch_id IS NULL ORDER BY id`)
    } else {
        if _, perr := uuid.Parse(batchID); perr != nil { return []model.RoutePlan{}, nil }
        rows, err = p.db.QueryContext(ctx, q+` WHERE batch_id=$1 ORDER BY id`, batchID)
    }
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.RoutePlan{}
    for rows.Next() {
        var rp model.RoutePlan
        var seq []byte
        var unit sql.NullInt64
        if err := rows.Scan(&rp.BatchID, &unit, &rp.Mode, &seq, &rp.TotalDistanceKm, &rp.TravelTimeMinutes, &rp.TreatmentTimeMinutes, &rp.TotalMissionTimeMinutes); err != nil { return nil, err }
        if err := json.Unmarshal(seq, &rp.RouteSequence); err != nil { return nil, fmt.Errorf("decode route sequence: %w", err) }
        if unit.Valid { id := unit.Int64; rp.MobileUnitID = &id }
        out = append(out, rp)
    }
    return out, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3::jsonb,$4)`, id, req.URL, string(ev), nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE events @> $1::jsonb ORDER BY id`, string(filter))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    if _, err := uuid.Parse(id); err != nil { return fmt.Errorf("subscription %s: %w", id, ErrNotFound) }
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return fmt.Errorf("subscription %s: %w", id, ErrNotFound) }
    return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6::jsonb,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), string(payload), dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`, nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

// FailWebhookDelivery marks a delivery failed and copies it to the dead-letter table.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil { return err }
    if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (delivery_id, event_type, url, secret, payload, attempts, last_error, response_code, latency_ms)
        SELECT id, event_type, url, secret, payload, attempts, $2, $3, $4 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil { return err }
    return tx.Commit()
}

// computeDedupKey prefers the event id in the payload, else a short content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
