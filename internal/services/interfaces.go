// Package services hosts the application logic between HTTP/CLI surfaces and
// the repositories.
package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/repositories"
)

// ReconcileCommand identifies one order to reconcile. OrderRef accepts either
// the internal order id or the marketplace order number.
type ReconcileCommand struct {
	OrderRef string
	DryRun   bool
}

// TaskUpdate is one pending update to an existing print task.
type TaskUpdate struct {
	Task          domain.PrintTask
	ChangedFields []string
}

// TaskCreate is one pending task creation derived from an extraction record.
type TaskCreate struct {
	TaskIndex int
	Record    domain.PersonalizationRecord
}

// ItemMutationPlan is the computed diff for one order item.
type ItemMutationPlan struct {
	OrderItemID string
	Creates     []TaskCreate
	Updates     []TaskUpdate
	Warnings    []string
}

// ReconcileResult summarises one reconciliation run.
type ReconcileResult struct {
	OrderID     string
	OrderNumber string
	Created     int
	Updated     int
	Unchanged   int
	Warnings    []string
	DryRun      bool
	Tasks       []domain.PrintTask
	CompletedAt time.Time
}

// ReconcileService derives print tasks for an order from its personalization
// input and converges the stored tasks toward the extraction result.
type ReconcileService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// ReconcileEventMessage is the payload published after a reconciliation run.
type ReconcileEventMessage struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Warnings    int       `json:"warnings"`
	DryRun      bool      `json:"dryRun"`
	CompletedAt time.Time `json:"completedAt"`
}

// ReconcileEventPublisher pushes reconcile completion events to downstream
// consumers.
type ReconcileEventPublisher interface {
	PublishReconcileEvent(ctx context.Context, msg ReconcileEventMessage) (string, error)
}

// PlanCommand carries the jobs and limits for one planning run.
type PlanCommand struct {
	Jobs              []domain.PlateJob
	MaxColorsPerPlate int
	MaxItemsPerPlate  int
}

// PlanService packs personalization jobs onto printer plates.
type PlanService interface {
	// Plan packs the given jobs. ErrPlanUnsatisfiable when the constraints
	// cannot be met.
	Plan(ctx context.Context, cmd PlanCommand) (domain.PlateSequence, error)
	// PlanPending snapshots pending print tasks and packs them.
	PlanPending(ctx context.Context, cmd PlanCommand, limit int) (domain.PlateSequence, error)
}

// PrintTaskListQuery narrows print task listings.
type PrintTaskListQuery struct {
	Status []domain.PrintTaskStatus
	Limit  int
}

// PrintTaskService exposes the stored print queue.
type PrintTaskService interface {
	List(ctx context.Context, query PrintTaskListQuery) ([]domain.PrintTask, error)
	ListByOrder(ctx context.Context, orderRef string) ([]domain.PrintTask, error)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
