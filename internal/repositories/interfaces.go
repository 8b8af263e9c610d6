package repositories

import (
	"context"

	domain "github.com/y3dhub/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PrintTasks() PrintTaskRepository
	ExtractionAudits() ExtractionAuditRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository reads ingested marketplace orders. Orders are written by the
// external sync; this service only reads them.
type OrderRepository interface {
	// FindByID retrieves an order with its items. Should return a
	// RepositoryError with IsNotFound when the order does not exist.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByOrderNumber resolves a marketplace order number to the order.
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
}

// PrintTaskFilter narrows print task listings.
type PrintTaskFilter struct {
	Status []domain.PrintTaskStatus
	Limit  int
}

// PrintTaskRepository persists derived print tasks.
type PrintTaskRepository interface {
	Insert(ctx context.Context, task domain.PrintTask) error
	Update(ctx context.Context, task domain.PrintTask) error
	// ListByOrder returns every task for the order sorted by item id then task index.
	ListByOrder(ctx context.Context, orderID string) ([]domain.PrintTask, error)
	// List returns tasks matching the filter sorted by creation time.
	List(ctx context.Context, filter PrintTaskFilter) ([]domain.PrintTask, error)
}

// ExtractionAuditRepository stores completion-service call records for forensics.
type ExtractionAuditRepository interface {
	Append(ctx context.Context, entry domain.ExtractionAuditEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.ExtractionAuditEntry, error)
}

// HealthRepository verifies connectivity with the persistence layer.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
