//go:build postgres_integration

package store

import (
    "errors"
    "os"
    "testing"
    "time"

    "github.com/google/uuid"
    "healthnav/internal/model"
)

func TestPostgresAllocationRoundTrip(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    defer p.Close()
    ctx := t.Context()
    if err := p.Ping(ctx); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.Migrate(ctx); err != nil { t.Fatalf("Migrate: %v", err) }

    loc, err := p.UpsertLocation(ctx, model.Location{Name: "it-village", Latitude: 12.9, Longitude: 77.6, Population: 4000, VulnerabilityIndex: 0.4})
    if err != nil { t.Fatalf("UpsertLocation: %v", err) }
    inv, err := p.SetInventory(ctx, model.Inventory{Doctors: 5, Kits: 100})
    if err != nil { t.Fatalf("SetInventory: %v", err) }

    b := model.AllocationBatch{ID: uuid.New().String(), CreatedAt: time.Now().UTC(), Mode: "online", VillagesSelected: 1, RemainingDoctors: 4, RemainingKits: 50,
        Details: []model.AllocationDetail{{Rank: 1, LocationID: loc.ID, Doctors: 1, Kits: 50, PriorityScore: 0.5}}}
    if _, err := p.CommitAllocation(ctx, inv, model.Inventory{Doctors: 4, Kits: 50}, b); err != nil { t.Fatalf("CommitAllocation: %v", err) }
    // same snapshot again must conflict
    b2 := b
    b2.ID = uuid.New().String()
    if _, err := p.CommitAllocation(ctx, inv, model.Inventory{Doctors: 3, Kits: 0}, b2); !errors.Is(err, model.ErrInventoryConflict) { t.Fatalf("want conflict, got %v", err) }

    got, err := p.GetBatch(ctx, b.ID)
    if err != nil { t.Fatalf("GetBatch: %v", err) }
    if len(got.Details) != 1 || got.Details[0].LocationID != loc.ID { t.Fatalf("bad details: %+v", got.Details) }
    after, _ := p.GetInventory(ctx)
    if after.Doctors != 4 || after.Kits != 50 { t.Fatalf("inventory not decremented: %+v", after) }
}

func TestPostgresMobileUnitOnRoutePlan(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    defer p.Close()
    ctx := t.Context()
    if err := p.Migrate(ctx); err != nil { t.Fatalf("Migrate: %v", err) }

    u, err := p.UpsertMobileUnit(ctx, model.MobileUnit{Name: "it-van", DoctorsCapacity: 2, KitsCapacity: 30, Active: true})
    if err != nil { t.Fatalf("UpsertMobileUnit: %v", err) }
    if _, err := p.GetMobileUnit(ctx, u.ID+1_000_000); !errors.Is(err, ErrNotFound) { t.Fatalf("want not found, got %v", err) }

    b := model.AllocationBatch{ID: uuid.New().String(), CreatedAt: time.Now().UTC(), Mode: "online"}
    inv, err := p.SetInventory(ctx, model.Inventory{Doctors: 1, Kits: 1})
    if err != nil { t.Fatalf("SetInventory: %v", err) }
    if _, err := p.CommitAllocation(ctx, inv, inv, b); err != nil { t.Fatalf("CommitAllocation: %v", err) }
    if err := p.SaveRoutePlan(ctx, model.RoutePlan{BatchID: b.ID, MobileUnitID: &u.ID, Mode: "online", RouteSequence: []int64{}}); err != nil { t.Fatalf("SaveRoutePlan: %v", err) }
    plans, err := p.ListRoutePlans(ctx, b.ID)
    if err != nil { t.Fatalf("ListRoutePlans: %v", err) }
    if len(plans) != 1 || plans[0].MobileUnitID == nil || *plans[0].MobileUnitID != u.ID { t.Fatalf("unit not kept: %+v", plans) }

    d, err := p.Dashboard(ctx)
    if err != nil { t.Fatalf("Dashboard: %v", err) }
    if d.OptimizationStatus != "optimized" || d.ActiveUnits < 1 { t.Fatalf("bad dashboard: %+v", d) }
}
