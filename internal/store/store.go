package store

import (
    "context"
    "time"

    "healthnav/internal/model"
)

// Store is the persistence interface used by the API server, the ingestion
// service and the allocation engine.
type Store interface {
    // Reference data
    UpsertLocation(ctx context.Context, loc model.Location) (model.Location, error)
    GetLocation(ctx context.Context, id int64) (model.Location, error)
    // GetLocations returns the locations in the order of ids. A missing id is ErrNotFound.
    GetLocations(ctx context.Context, ids []int64) ([]model.Location, error)
    ListLocations(ctx context.Context) ([]model.Location, error)
    UpsertCondition(ctx context.Context, c model.Condition) (model.Condition, error)
    GetCondition(ctx context.Context, id int64) (model.Condition, error)
    ListConditions(ctx context.Context) ([]model.Condition, error)

    // Observations
    // LatestObservation returns nil, nil when the pair has no prior report.
    LatestObservation(ctx context.Context, locationID, conditionID int64) (*model.Observation, error)
    InsertObservation(ctx context.Context, o model.Observation) (model.Observation, error)
    // LatestObservations returns the newest report of every (location, condition)
    // pair ordered by location id, then condition id.
    LatestObservations(ctx context.Context) ([]model.Observation, error)

    // Inventory & allocation batches
    GetInventory(ctx context.Context) (model.Inventory, error)
    SetInventory(ctx context.Context, inv model.Inventory) (model.Inventory, error)
    CommitAllocation(ctx context.Context, snapshot, remaining model.Inventory, batch model.AllocationBatch) (model.AllocationBatch, error)
    GetBatch(ctx context.Context, id string) (model.AllocationBatch, error)
    // ListBatches returns the newest batches first.
    ListBatches(ctx context.Context, limit int) ([]model.AllocationBatch, error)

    // Mobile units
    UpsertMobileUnit(ctx context.Context, u model.MobileUnit) (model.MobileUnit, error)
    GetMobileUnit(ctx context.Context, id int64) (model.MobileUnit, error)
    ListMobileUnits(ctx context.Context) ([]model.MobileUnit, error)

    // Dashboard counts reference data, reports, batches and active units.
    Dashboard(ctx context.Context) (model.Dashboard, error)

    // Route plans
    SaveRoutePlan(ctx context.Context, plan model.RoutePlan) error
    ListRoutePlans(ctx context.Context, batchID string) ([]model.RoutePlan, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = model.ErrNotFound
