package model

import "time"

// Core domain types shared by the scoring, allocation and routing packages.
// Entities reference each other by id only; callers join them.

type Location struct {
	ID                 int64      `json:"id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	Latitude           float64    `json:"latitude" yaml:"latitude"`
	Longitude          float64    `json:"longitude" yaml:"longitude"`
	Population         int        `json:"population" yaml:"population"`
	VulnerabilityIndex float64    `json:"vulnerabilityIndex" yaml:"vulnerabilityIndex"` // 0 to 1
	LastVisitAt        *time.Time `json:"lastVisitAt,omitempty" yaml:"lastVisitAt,omitempty"`
}

type Condition struct {
	ID             int64   `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	SeverityWeight float64 `json:"severityWeight" yaml:"severityWeight"`
}

// Observation is one outbreak report. The derived fields are computed once
// at ingestion and never recomputed.
type Observation struct {
	ID              int64     `json:"id"`
	LocationID      int64     `json:"locationId"`
	ConditionID     int64     `json:"conditionId"`
	ReportedAt      time.Time `json:"reportedAt"`
	TestsDone       int       `json:"testsDone"`
	PositiveCases   int       `json:"positiveCases"`
	PositivityRate  float64   `json:"positivityRate"`
	SpreadVelocity  float64   `json:"spreadVelocity"`
	RiskScore       float64   `json:"riskScore"`
	ReporterType    string    `json:"reporterType,omitempty"` // dashboard, sms, van
	ConfidenceScore float64   `json:"confidenceScore,omitempty"`
}

// ObservationIn is what an ingestion caller submits.
type ObservationIn struct {
	LocationID      int64      `json:"locationId"`
	ConditionID     int64      `json:"conditionId"`
	TestsDone       int        `json:"testsDone"`
	PositiveCases   int        `json:"positiveCases"`
	ReportedAt      *time.Time `json:"reportedAt,omitempty"`
	ReporterType    string     `json:"reporterType,omitempty"`
	ConfidenceScore float64    `json:"confidenceScore,omitempty"`
}

// Inventory is the single resource budget read and decremented by an
// allocation run. Nurses and vaccines are tracked but not allocated.
type Inventory struct {
	Doctors   int       `json:"doctors" yaml:"doctors"`
	Nurses    int       `json:"nurses" yaml:"nurses"`
	Kits      int       `json:"kits" yaml:"kits"`
	Vaccines  int       `json:"vaccines" yaml:"vaccines"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Candidate is one ranked entry handed to the allocation engine. Positivity
// and spread come from the observation that gave the score and are for
// display only.
type Candidate struct {
	LocationID     int64   `json:"locationId"`
	RiskScore      float64 `json:"riskScore"`
	PositivityRate float64 `json:"positivityRate"`
	SpreadVelocity float64 `json:"spreadVelocity"`
}

// MobileUnit is a van that carries a team on a route.
type MobileUnit struct {
	ID              int64  `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	DoctorsCapacity int    `json:"doctorsCapacity" yaml:"doctorsCapacity"`
	KitsCapacity    int    `json:"kitsCapacity" yaml:"kitsCapacity"`
	Active          bool   `json:"active" yaml:"active"`
}

// Dashboard is the operations summary shown to administrators.
type Dashboard struct {
	Locations          int        `json:"locations"`
	Observations       int        `json:"observations"`
	Batches            int        `json:"batches"`
	ActiveUnits        int        `json:"activeUnits"`
	LastAllocationAt   *time.Time `json:"lastAllocationAt,omitempty"`
	OptimizationStatus string     `json:"optimizationStatus"` // not_optimized, optimized
}

type AllocationBatch struct {
	ID               string             `json:"batchId"`
	CreatedAt        time.Time          `json:"createdAt"`
	Mode             string             `json:"mode"` // online, offline
	VillagesSelected int                `json:"villagesSelected"`
	RemainingDoctors int                `json:"remainingDoctors"`
	RemainingKits    int                `json:"remainingKits"`
	Details          []AllocationDetail `json:"details"`
}

type AllocationDetail struct {
	Rank          int     `json:"rank"`
	LocationID    int64   `json:"locationId"`
	Doctors       int     `json:"doctorsAllocated"`
	Kits          int     `json:"kitsAllocated"`
	PriorityScore float64 `json:"priorityScore"`
}

// RoutePlan is the visiting order for a set of locations. Field names follow
// the route output contract.
type RoutePlan struct {
	BatchID                 string  `json:"batchId,omitempty"`
	MobileUnitID            *int64  `json:"mobileUnitId,omitempty"`
	Mode                    string  `json:"mode"`
	RouteSequence           []int64 `json:"route_sequence"`
	TotalDistanceKm         float64 `json:"total_distance_km"`
	TravelTimeMinutes       float64 `json:"travel_time_minutes"`
	TreatmentTimeMinutes    int     `json:"treatment_time_minutes"`
	TotalMissionTimeMinutes float64 `json:"total_mission_time_minutes"`
}

// Strategy labels returned by the advisor.
const (
	StrategyFullRecompute     = "FULL_RECOMPUTE"
	StrategyLocalReallocation = "LOCAL_REALLOCATION"
	StrategyMonitorOnly       = "MONITOR_ONLY"
)

type StrategyDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Source   string `json:"source"` // llm, rules
}

// Webhook subscriptions
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
