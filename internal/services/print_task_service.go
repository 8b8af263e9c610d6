package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/repositories"
)

var (
	errPrintTaskRepoRequired   = errors.New("print_task: repository is required")
	errPrintTaskOrdersRequired = errors.New("print_task: order repository is required")
)

// ErrPrintTaskInvalidInput indicates an unusable query.
var ErrPrintTaskInvalidInput = errors.New("print_task: invalid input")

// ErrPrintTaskNotFound indicates the referenced order does not exist.
var ErrPrintTaskNotFound = errors.New("print_task: order not found")

// ErrPrintTaskUnavailable indicates a dependency failure.
var ErrPrintTaskUnavailable = errors.New("print_task: service unavailable")

const maxPrintTaskPageSize = 500

// PrintTaskServiceDeps wires the print queue read model.
type PrintTaskServiceDeps struct {
	PrintTasks repositories.PrintTaskRepository
	Orders     repositories.OrderRepository
}

type printTaskService struct {
	tasks  repositories.PrintTaskRepository
	orders repositories.OrderRepository
}

// NewPrintTaskService constructs a PrintTaskService with the provided dependencies.
func NewPrintTaskService(deps PrintTaskServiceDeps) (PrintTaskService, error) {
	if deps.PrintTasks == nil {
		return nil, errPrintTaskRepoRequired
	}
	if deps.Orders == nil {
		return nil, errPrintTaskOrdersRequired
	}
	return &printTaskService{tasks: deps.PrintTasks, orders: deps.Orders}, nil
}

// List returns tasks matching the query, capped at the page limit.
func (s *printTaskService) List(ctx context.Context, query PrintTaskListQuery) ([]domain.PrintTask, error) {
	if s == nil || s.tasks == nil {
		return nil, ErrPrintTaskUnavailable
	}
	if query.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrPrintTaskInvalidInput)
	}
	if query.Limit == 0 || query.Limit > maxPrintTaskPageSize {
		query.Limit = maxPrintTaskPageSize
	}
	for _, status := range query.Status {
		if _, ok := domain.ParsePrintTaskStatus(string(status)); !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrPrintTaskInvalidInput, status)
		}
	}
	tasks, err := s.tasks.List(ctx, repositories.PrintTaskFilter{Status: query.Status, Limit: query.Limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrintTaskUnavailable, err)
	}
	return tasks, nil
}

// ListByOrder resolves the order reference (id or order number) and returns
// its tasks ordered by item then task index.
func (s *printTaskService) ListByOrder(ctx context.Context, orderRef string) ([]domain.PrintTask, error) {
	if s == nil || s.tasks == nil {
		return nil, ErrPrintTaskUnavailable
	}
	ref := strings.TrimSpace(orderRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty order reference", ErrPrintTaskInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, ref)
	if err != nil {
		if !isRepoNotFound(err) {
			return nil, fmt.Errorf("%w: %v", ErrPrintTaskUnavailable, err)
		}
		order, err = s.orders.FindByOrderNumber(ctx, ref)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrPrintTaskNotFound, ref)
			}
			return nil, fmt.Errorf("%w: %v", ErrPrintTaskUnavailable, err)
		}
	}

	tasks, err := s.tasks.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrintTaskUnavailable, err)
	}
	return tasks, nil
}
