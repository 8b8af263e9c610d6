package domain

import (
	"time"
)

// Marketplace identifies the external sales channel an order originated from.
type Marketplace string

const (
	// MarketplaceEbay identifies orders imported from eBay.
	MarketplaceEbay Marketplace = "ebay"
	// MarketplaceAmazon identifies orders imported from Amazon.
	MarketplaceAmazon Marketplace = "amazon"
	// MarketplaceWeb identifies orders placed directly on the storefront.
	MarketplaceWeb Marketplace = "web"
)

// OrderStatus captures the externally-synced lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusAwaitingProduction indicates the order has been ingested but not shipped.
	OrderStatusAwaitingProduction OrderStatus = "awaiting_production"
	// OrderStatusShipped indicates the marketplace reported the order as shipped.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled indicates the marketplace cancelled the order.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is an ingested marketplace order. Immutable once persisted except for
// status fields owned by the external sync.
type Order struct {
	ID            string
	OrderNumber   string
	Marketplace   Marketplace
	CustomerNotes string
	ShipByDate    *time.Time
	Status        OrderStatus
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem is a single line of an order. Quantity is the ceiling every
// derived personalization quantity for the item must sum to. PrintSettings
// carries the marketplace's raw settings blob, either a list of {name,value}
// options or a flat map.
type OrderItem struct {
	ID            string
	ProductSKU    string
	ProductName   string
	Quantity      int
	PrintSettings any
}

// PersonalizationRecord is the proposed state for one print task: the
// customer's requested text, colors and quantity for a single logical job.
type PersonalizationRecord struct {
	CustomText   *string
	Color1       *string
	Color2       *string
	Quantity     int
	NeedsReview  bool
	ReviewReason *string
	Annotation   *string
}

// PrintTaskStatus describes the production lifecycle of a print task.
type PrintTaskStatus string

const (
	// PrintTaskStatusPending indicates the task is queued and not yet on a plate.
	PrintTaskStatusPending PrintTaskStatus = "pending"
	// PrintTaskStatusInProgress indicates the task is currently being produced.
	PrintTaskStatusInProgress PrintTaskStatus = "in_progress"
	// PrintTaskStatusCompleted indicates production finished; the task is terminal.
	PrintTaskStatusCompleted PrintTaskStatus = "completed"
	// PrintTaskStatusCancelled indicates the task was withdrawn before completion.
	PrintTaskStatusCancelled PrintTaskStatus = "cancelled"
)

// ParsePrintTaskStatus parses a wire status value.
func ParsePrintTaskStatus(value string) (PrintTaskStatus, bool) {
	switch PrintTaskStatus(value) {
	case PrintTaskStatusPending, PrintTaskStatusInProgress, PrintTaskStatusCompleted, PrintTaskStatusCancelled:
		return PrintTaskStatus(value), true
	}
	return "", false
}

// IsTerminal reports whether the status permits no further transitions.
func (s PrintTaskStatus) IsTerminal() bool {
	return s == PrintTaskStatusCompleted || s == PrintTaskStatusCancelled
}

// CanTransitionTo reports whether the status machine allows moving to next.
func (s PrintTaskStatus) CanTransitionTo(next PrintTaskStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case PrintTaskStatusPending:
		return next == PrintTaskStatusInProgress || next == PrintTaskStatusCompleted || next == PrintTaskStatusCancelled
	case PrintTaskStatusInProgress:
		return next == PrintTaskStatusPending || next == PrintTaskStatusCompleted || next == PrintTaskStatusCancelled
	default:
		return false
	}
}

// PrintTask is one durable manufacturing job derived from an order item.
// TaskIndex is a dense ordering key, unique per item.
type PrintTask struct {
	ID           string
	OrderID      string
	OrderItemID  string
	TaskIndex    int
	CustomText   *string
	Color1       *string
	Color2       *string
	Quantity     int
	NeedsReview  bool
	ReviewReason *string
	Annotation   *string
	SKU          string
	ProductName  string
	OrderNumber  string
	ShipByDate   *time.Time
	Status       PrintTaskStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Record projects the task's personalization fields as a PersonalizationRecord.
func (t PrintTask) Record() PersonalizationRecord {
	return PersonalizationRecord{
		CustomText:   t.CustomText,
		Color1:       t.Color1,
		Color2:       t.Color2,
		Quantity:     t.Quantity,
		NeedsReview:  t.NeedsReview,
		ReviewReason: t.ReviewReason,
		Annotation:   t.Annotation,
	}
}

// PlateJob references one print task assigned to a plate. Absent colors are
// empty strings; the planner only counts non-empty colors toward the limit.
type PlateJob struct {
	ID         string
	SKU        string
	Quantity   int
	Color1     string
	Color2     string
	CustomText string
}

// Plate is one manufacturing batch: jobs sharing a single SKU whose combined
// colors and item count stay within the configured plate limits.
type Plate struct {
	TaskNumber     int
	ColorsLoaded   []string
	EstimatedItems int
	AssignedJobs   []PlateJob
}

// PlateSequence is the ordered planner output for one snapshot of pending jobs.
type PlateSequence struct {
	TotalJobs  int
	TotalTasks int
	Plates     []Plate
}

// ExtractionAuditEntry records one completion-service round trip for forensics.
type ExtractionAuditEntry struct {
	ID          string
	OrderID     string
	Model       string
	Prompt      string
	RawResponse string
	Success     bool
	ErrorDetail *string
	Duration    time.Duration
	CreatedAt   time.Time
}
