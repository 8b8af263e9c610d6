package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/y3dhub/api/internal/platform/firestore"
	"github.com/y3dhub/api/internal/repositories"
)

// Registry bundles the Firestore repository implementations behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork

	orders           *OrderRepository
	printTasks       *PrintTaskRepository
	extractionAudits *ExtractionAuditRepository
	health           repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository over a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	printTasks, err := NewPrintTaskRepository(provider)
	if err != nil {
		return nil, err
	}
	audits, err := NewExtractionAuditRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:         provider,
		uow:              pfirestore.NewUnitOfWork(provider),
		orders:           orders,
		printTasks:       printTasks,
		extractionAudits: audits,
		health:           health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// PrintTasks returns the print task repository.
func (r *Registry) PrintTasks() repositories.PrintTaskRepository { return r.printTasks }

// ExtractionAudits returns the extraction audit repository.
func (r *Registry) ExtractionAudits() repositories.ExtractionAuditRepository {
	return r.extractionAudits
}

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.uow == nil {
		return fn(ctx)
	}
	return r.uow.RunInTx(ctx, fn)
}
